package scan

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/matching"
	"github.com/wonny/bullscan/internal/training"
	"github.com/wonny/bullscan/pkg/logger"
)

var (
	// ErrScanNotFound is returned for an unknown or expired scan id
	ErrScanNotFound = errors.New("scan not found")
	// ErrScanRunning is returned when a full scan is already in progress
	ErrScanRunning = errors.New("a scan is already running")
	// ErrNoModel is returned when no trained template is loaded
	ErrNoModel = errors.New("no trained model loaded")
	// ErrScanFinished is returned when continuing a scan that already ended
	ErrScanFinished = errors.New("scan already finished")
)

const (
	progressEvery = 5
	scanWeeks     = 104
)

// Fetcher is the market data the driver reads
type Fetcher interface {
	GetAllStocks(ctx context.Context) ([]contracts.StockInfo, error)
	GetWeeklyBars(ctx context.Context, code string, weeks int) (contracts.Bars, error)
	GetDailyBars(ctx context.Context, code string, from, to time.Time) (contracts.Bars, error)
	GetMarketCap(ctx context.Context, code string) (float64, error)
}

// ResultRepository stores finished scans durably
type ResultRepository interface {
	SaveRun(ctx context.Context, p *contracts.Progress, cands []contracts.Candidate) error
}

// Recorder keeps a local history of scans
type Recorder interface {
	RecordScan(ctx context.Context, p *contracts.Progress, cands []contracts.Candidate) error
}

// Result is the outcome of a synchronous scan
type Result struct {
	Progress   *contracts.Progress   `json:"progress"`
	Candidates []contracts.Candidate `json:"candidates"`
}

// BatchResult is the outcome of one continuation batch
type BatchResult struct {
	ScanID        string              `json:"scan_id"`
	Batch         int                 `json:"batch"`
	TotalBatches  int                 `json:"total_batches"`
	HasMore       bool                `json:"has_more"`
	NewCandidates int                 `json:"new_candidates"`
	Progress      *contracts.Progress `json:"progress"`
}

type run struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// Driver runs scans of the stock universe against the trained template
type Driver struct {
	fetcher  Fetcher
	store    ProgressStore
	results  ResultRepository
	recorder Recorder
	logger   *logger.Logger
	now      func() time.Time

	modelMu sync.RWMutex
	model   *training.Model
	scoring matching.Options

	mu     sync.Mutex
	runs   map[string]*run
	active string
}

// NewDriver creates a scan driver
func NewDriver(fetcher Fetcher, store ProgressStore, model *training.Model, log *logger.Logger) *Driver {
	return &Driver{
		fetcher: fetcher,
		store:   store,
		model:   model,
		logger:  log.WithComponent("scan"),
		now:     time.Now,
		runs:    make(map[string]*run),
	}
}

// WithResultRepository persists finished scans
func (d *Driver) WithResultRepository(repo ResultRepository) *Driver {
	d.results = repo
	return d
}

// WithRecorder records finished scans locally
func (d *Driver) WithRecorder(rec Recorder) *Driver {
	d.recorder = rec
	return d
}

// WithScoring sets the scorer options
func (d *Driver) WithScoring(opts matching.Options) *Driver {
	d.scoring = opts
	return d
}

// SetModel swaps the model used by scans started afterwards
func (d *Driver) SetModel(m *training.Model) {
	d.modelMu.Lock()
	d.model = m
	d.modelMu.Unlock()
}

// Model returns the current model
func (d *Driver) Model() *training.Model {
	d.modelMu.RLock()
	defer d.modelMu.RUnlock()
	return d.model
}

func (d *Driver) template() (contracts.Template, error) {
	tpl := d.Model().Template()
	if len(tpl) == 0 {
		return nil, ErrNoModel
	}
	return tpl.Clone(), nil
}

func newScanID(now time.Time) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("scan_%d_%s", now.Unix(), hex.EncodeToString(b))
}

func (d *Driver) normalize(p contracts.ScanParams) contracts.ScanParams {
	if p.Workers <= 0 {
		p.Workers = 1
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 200
	}
	if p.StockTimeout <= 0 {
		p.StockTimeout = 10 * time.Second
	}
	if p.CapTimeout <= 0 {
		p.CapTimeout = 5 * time.Second
	}
	if !p.ScanDate.IsZero() {
		p.ScanDate = contracts.DayOf(p.ScanDate)
	}
	return p
}

// prepare stores a preparing record under id and loads the universe
func (d *Driver) prepare(ctx context.Context, id string, params contracts.ScanParams) (*contracts.Progress, []contracts.StockInfo, error) {
	now := d.now()
	prog := &contracts.Progress{
		ScanID:    id,
		Status:    contracts.StatusPreparing,
		StartedAt: now,
		Params:    params,
		Detail:    "loading stock list",
	}
	if err := d.store.SaveProgress(ctx, prog); err != nil {
		return nil, nil, err
	}
	if err := d.store.SetLatest(ctx, params.Username, prog.ScanID); err != nil {
		d.logger.WithError(err).Warn("Failed to record latest scan")
	}

	universe, err := d.fetcher.GetAllStocks(ctx)
	if err == nil && len(universe) == 0 {
		err = contracts.ErrInsufficientData
	}
	if err != nil {
		d.fail(ctx, prog, fmt.Errorf("load universe: %w", err))
		return prog, nil, fmt.Errorf("load universe: %w", err)
	}
	if params.Limit > 0 && params.Limit < len(universe) {
		universe = universe[:params.Limit]
	}

	if err := d.store.SaveUniverse(ctx, prog.ScanID, universe); err != nil {
		d.fail(ctx, prog, err)
		return prog, nil, err
	}
	return prog, universe, nil
}

func (d *Driver) transition(prog *contracts.Progress, next contracts.Status) {
	if !prog.Status.CanTransition(next) {
		d.logger.WithFields(map[string]interface{}{
			"scan_id": prog.ScanID,
			"from":    string(prog.Status),
			"to":      string(next),
		}).Warn("Ignoring invalid scan transition")
		return
	}
	prog.Status = next
}

func (d *Driver) fail(ctx context.Context, prog *contracts.Progress, cause error) {
	d.transition(prog, contracts.StatusFailed)
	prog.Detail = cause.Error()
	if err := d.store.SaveProgress(ctx, prog); err != nil {
		d.logger.WithError(err).Error("Failed to save failed scan state")
	}
	d.logger.WithError(cause).WithField("scan_id", prog.ScanID).Error("Scan failed")
}

func (d *Driver) register(id string, cancel context.CancelFunc, exclusive bool) (*run, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if exclusive {
		if d.active != "" {
			return nil, ErrScanRunning
		}
		d.active = id
	}
	r := &run{cancel: cancel}
	d.runs[id] = r
	return r, nil
}

func (d *Driver) unregister(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.runs, id)
	if d.active == id {
		d.active = ""
	}
}

// Running reports the id of the in-flight full scan, if any
func (d *Driver) Running() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active, d.active != ""
}

// Start launches a full scan in the background and returns its id
func (d *Driver) Start(ctx context.Context, params contracts.ScanParams) (string, error) {
	tpl, err := d.template()
	if err != nil {
		return "", err
	}
	params = d.normalize(params)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	id := newScanID(d.now())
	r, err := d.register(id, cancel, true)
	if err != nil {
		cancel()
		return "", err
	}

	prog, universe, err := d.prepare(runCtx, id, params)
	if err != nil {
		d.unregister(id)
		cancel()
		return "", err
	}

	go func() {
		defer cancel()
		defer d.unregister(prog.ScanID)
		_, _ = d.execute(runCtx, r, prog, universe, tpl)
	}()

	return prog.ScanID, nil
}

// Run scans synchronously. Canceling ctx stops the scan and keeps partial results.
func (d *Driver) Run(ctx context.Context, params contracts.ScanParams) (*Result, error) {
	tpl, err := d.template()
	if err != nil {
		return nil, err
	}
	params = d.normalize(params)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	prog, universe, err := d.prepare(runCtx, newScanID(d.now()), params)
	if err != nil {
		return nil, err
	}

	r, _ := d.register(prog.ScanID, cancel, false)
	defer d.unregister(prog.ScanID)

	cands, err := d.execute(runCtx, r, prog, universe, tpl)
	return &Result{Progress: prog, Candidates: cands}, err
}

func (d *Driver) execute(ctx context.Context, r *run, prog *contracts.Progress, universe []contracts.StockInfo, tpl contracts.Template) ([]contracts.Candidate, error) {
	start := time.Now()
	d.transition(prog, contracts.StatusRunning)
	prog.SetCounts(0, len(universe))
	prog.TotalBatches = 1
	prog.Batch = 1
	prog.Detail = ""
	if err := d.store.SaveProgress(ctx, prog); err != nil {
		d.fail(context.WithoutCancel(ctx), prog, err)
		return nil, err
	}

	d.logger.WithFields(map[string]interface{}{
		"scan_id":   prog.ScanID,
		"stocks":    len(universe),
		"workers":   prog.Params.Workers,
		"min_score": prog.Params.MinMatchScore,
		"max_cap":   prog.Params.MaxMarketCap,
		"scan_date": dateString(prog.Params.ScanDate),
	}).Info("Starting scan")

	cands := d.processRange(ctx, r, prog, universe, 0, tpl, nil)

	// the final writes must land even after a stop canceled ctx
	saveCtx := context.WithoutCancel(ctx)
	if r.stopped.Load() || ctx.Err() != nil {
		d.transition(prog, contracts.StatusStopped)
		prog.Detail = "stopped by user"
	} else {
		d.transition(prog, contracts.StatusComplete)
	}
	if err := d.finish(saveCtx, prog, cands); err != nil {
		d.fail(saveCtx, prog, err)
		return cands, err
	}

	d.logger.WithFields(map[string]interface{}{
		"scan_id":   prog.ScanID,
		"status":    string(prog.Status),
		"processed": prog.Current,
		"found":     prog.Found,
		"errors":    prog.Errors,
		"duration":  time.Since(start).String(),
	}).Info("Scan finished")

	return cands, nil
}

// finish stores the final candidate list and hands terminal scans to the
// repository and recorder
func (d *Driver) finish(ctx context.Context, prog *contracts.Progress, cands []contracts.Candidate) error {
	prog.Found = len(cands)
	prog.Candidates = cands
	prog.CurrentStock, prog.CurrentName = "", ""

	if err := d.store.SaveResults(ctx, prog.ScanID, cands); err != nil {
		return err
	}
	if err := d.store.SaveProgress(ctx, prog); err != nil {
		return err
	}
	if !prog.Status.IsTerminal() {
		return nil
	}

	if d.results != nil {
		if err := d.results.SaveRun(ctx, prog, cands); err != nil {
			d.logger.WithError(err).WithField("scan_id", prog.ScanID).Warn("Failed to persist scan run")
		}
	}
	if d.recorder != nil {
		if err := d.recorder.RecordScan(ctx, prog, cands); err != nil {
			d.logger.WithError(err).WithField("scan_id", prog.ScanID).Warn("Failed to record scan")
		}
	}
	return nil
}

type job struct {
	idx   int
	stock contracts.StockInfo
}

type outcome struct {
	idx   int
	stock contracts.StockInfo
	cand  *contracts.Candidate
	err   error
}

// processRange scans stocks with a worker pool. offset is the universe index
// of stocks[0]. Candidates come back in universe order, after prior ones.
func (d *Driver) processRange(ctx context.Context, r *run, prog *contracts.Progress, stocks []contracts.StockInfo, offset int, tpl contracts.Template, prior []contracts.Candidate) []contracts.Candidate {
	params := prog.Params
	workers := params.Workers
	if workers > len(stocks) {
		workers = len(stocks)
	}

	jobCh := make(chan job)
	outCh := make(chan outcome, workers+1)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			d.worker(ctx, workerID, r, jobCh, outCh, tpl, params)
		}(i)
	}

	go func() {
		defer close(jobCh)
		for i, s := range stocks {
			if r.stopped.Load() {
				return
			}
			select {
			case jobCh <- job{idx: offset + i, stock: s}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outCh)
	}()

	found := make(map[int]contracts.Candidate)
	processed := 0
	for o := range outCh {
		processed++
		prog.SetCounts(offset+processed, prog.Total)
		prog.CurrentStock = o.stock.Code
		prog.CurrentName = o.stock.Name

		switch {
		case o.err != nil:
			if !isSkip(o.err) {
				prog.Errors++
				d.logger.WithError(o.err).WithFields(map[string]interface{}{
					"scan_id": prog.ScanID,
					"code":    o.stock.Code,
				}).Debug("Stock failed")
			}
		case o.cand != nil:
			found[o.idx] = *o.cand
		}

		if processed%progressEvery == 0 {
			prog.Candidates = merge(prior, found)
			prog.Found = len(prog.Candidates)
			if err := d.store.SaveProgress(ctx, prog); err != nil {
				d.logger.WithError(err).WithField("scan_id", prog.ScanID).Warn("Failed to save progress")
			}
		}
	}

	return merge(prior, found)
}

func (d *Driver) worker(ctx context.Context, workerID int, r *run, jobCh <-chan job, outCh chan<- outcome, tpl contracts.Template, params contracts.ScanParams) {
	for j := range jobCh {
		if r.stopped.Load() || ctx.Err() != nil {
			continue
		}
		cand, err := d.processStock(ctx, j.stock, tpl, params)
		if err != nil && ctx.Err() != nil {
			// canceled mid-stock; not counted as processed
			continue
		}
		outCh <- outcome{idx: j.idx, stock: j.stock, cand: cand, err: err}
	}
}

func merge(prior []contracts.Candidate, found map[int]contracts.Candidate) []contracts.Candidate {
	idx := make([]int, 0, len(found))
	for i := range found {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]contracts.Candidate, 0, len(prior)+len(found))
	out = append(out, prior...)
	for _, i := range idx {
		out = append(out, found[i])
	}
	return out
}

func isSkip(err error) bool {
	return errors.Is(err, contracts.ErrInsufficientData) || errors.Is(err, contracts.ErrNotFound)
}

// RunBatch processes batch batchNum of a continuation scan. Batch 1 creates
// the scan; later batches resume it by id.
func (d *Driver) RunBatch(ctx context.Context, scanID string, batchNum int, params contracts.ScanParams) (*BatchResult, error) {
	tpl, err := d.template()
	if err != nil {
		return nil, err
	}

	var (
		prog     *contracts.Progress
		universe []contracts.StockInfo
		prior    []contracts.Candidate
	)

	if batchNum <= 1 || scanID == "" {
		batchNum = 1
		params = d.normalize(params)
		prog, universe, err = d.prepare(ctx, newScanID(d.now()), params)
		if err != nil {
			return nil, err
		}
		d.transition(prog, contracts.StatusRunning)
		prog.SetCounts(0, len(universe))
		prog.TotalBatches = (len(universe) + params.BatchSize - 1) / params.BatchSize
	} else {
		prog, err = d.store.LoadProgress(ctx, scanID)
		if err != nil {
			return nil, err
		}
		if prog.Status.IsTerminal() {
			return &BatchResult{
				ScanID:       prog.ScanID,
				Batch:        prog.Batch,
				TotalBatches: prog.TotalBatches,
				Progress:     prog,
			}, fmt.Errorf("%s is %s: %w", scanID, prog.Status, ErrScanFinished)
		}
		universe, err = d.store.LoadUniverse(ctx, scanID)
		if err != nil {
			d.fail(ctx, prog, err)
			return nil, err
		}
		prior, err = d.store.LoadResults(ctx, scanID)
		if err != nil {
			d.fail(ctx, prog, err)
			return nil, err
		}
	}
	params = prog.Params
	size := params.BatchSize

	lo := (batchNum - 1) * size
	if lo > len(universe) {
		lo = len(universe)
	}
	hi := lo + size
	if hi > len(universe) {
		hi = len(universe)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r, _ := d.register(prog.ScanID, cancel, false)
	defer d.unregister(prog.ScanID)

	prog.Batch = batchNum
	if err := d.store.SaveProgress(ctx, prog); err != nil {
		d.fail(ctx, prog, err)
		return nil, err
	}

	cands := d.processRange(runCtx, r, prog, universe[lo:hi], lo, tpl, prior)

	res := &BatchResult{
		ScanID:        prog.ScanID,
		Batch:         batchNum,
		TotalBatches:  prog.TotalBatches,
		NewCandidates: len(cands) - len(prior),
		HasMore:       hi < len(universe),
		Progress:      prog,
	}

	saveCtx := context.WithoutCancel(ctx)
	switch {
	case r.stopped.Load() || runCtx.Err() != nil:
		d.transition(prog, contracts.StatusStopped)
		res.HasMore = false
	case !res.HasMore:
		prog.SetCounts(len(universe), len(universe))
		d.transition(prog, contracts.StatusComplete)
	}
	if err := d.finish(saveCtx, prog, cands); err != nil {
		d.fail(saveCtx, prog, err)
		return res, err
	}

	d.logger.WithFields(map[string]interface{}{
		"scan_id":  prog.ScanID,
		"batch":    batchNum,
		"of":       prog.TotalBatches,
		"found":    prog.Found,
		"has_more": res.HasMore,
	}).Info("Scan batch finished")

	return res, nil
}

// Stop asks a scan to end. Running workers finish their current stock and
// the scan keeps its partial results. A batch scan not running in this
// process is marked stopped in the store.
func (d *Driver) Stop(ctx context.Context, scanID string) error {
	d.mu.Lock()
	r, ok := d.runs[scanID]
	d.mu.Unlock()
	if ok {
		r.stopped.Store(true)
		r.cancel()
		return nil
	}

	prog, err := d.store.LoadProgress(ctx, scanID)
	if err != nil {
		return err
	}
	if prog.Status.IsTerminal() {
		return nil
	}
	d.transition(prog, contracts.StatusStopped)
	prog.Detail = "stopped by user"
	return d.store.SaveProgress(ctx, prog)
}

// Progress returns the stored state of a scan
func (d *Driver) Progress(ctx context.Context, scanID string) (*contracts.Progress, error) {
	return d.store.LoadProgress(ctx, scanID)
}

// Results returns the candidates of a scan. Unfinished scans return the partial list.
func (d *Driver) Results(ctx context.Context, scanID string) ([]contracts.Candidate, error) {
	cands, err := d.store.LoadResults(ctx, scanID)
	if err != nil {
		return nil, err
	}
	if cands != nil {
		return cands, nil
	}
	prog, err := d.store.LoadProgress(ctx, scanID)
	if err != nil {
		return nil, err
	}
	return prog.Candidates, nil
}

// Latest returns the most recent scan id started by username
func (d *Driver) Latest(ctx context.Context, username string) (string, error) {
	return d.store.Latest(ctx, username)
}

func dateString(t time.Time) string {
	if t.IsZero() {
		return "today"
	}
	return t.Format("2006-01-02")
}
