package features

// Feature names
const (
	StartVolumeRatio      = "start_volume_ratio"
	AvgVolume10W          = "avg_volume_10w"
	AvgVolume20W          = "avg_volume_20w"
	AvgVolume40W          = "avg_volume_40w"
	VolumeShrink          = "volume_shrink"
	MaxVolume40W          = "max_volume_40w"
	MaxVolumeLow          = "max_volume_low"
	BrokeMaxVolumeLow     = "broke_max_volume_low"
	DropBelowMaxVolumeLow = "drop_below_max_volume_low"
	StartVolumeVsMax      = "start_volume_vs_max"

	PricePosition   = "price_position"
	DropFromHigh20W = "drop_from_high_20w"
	High20W         = "high_20w"
	Low20W          = "low_20w"
	High40W         = "high_40w"
	Low40W          = "low_40w"
	Amplitude20W    = "amplitude_20w"

	MA5         = "ma5"
	MA10        = "ma10"
	MA20        = "ma20"
	MA40        = "ma40"
	PriceVsMA5  = "price_vs_ma5"
	PriceVsMA10 = "price_vs_ma10"
	PriceVsMA20 = "price_vs_ma20"
	PriceVsMA40 = "price_vs_ma40"
	MA20Slope   = "ma20_slope"

	PriceVolumeCorr20W = "price_volume_corr_20w"
	StartPriceUp       = "start_price_up"
	StartVolumeUp      = "start_volume_up"
	StartPriceVolumeUp = "start_price_volume_up"

	Volatility10W = "volatility_10w"
	Volatility20W = "volatility_20w"

	StartPrice = "start_price"

	MACDDIF         = "macd_dif"
	MACDDEA         = "macd_dea"
	MACDHist        = "macd_hist"
	MACDGoldenCross = "macd_golden_cross"
	MACDAboveZero   = "macd_above_zero"

	RSI         = "rsi"
	RSIOversold = "rsi_oversold"
	RSIStrong   = "rsi_strong"

	KDJK        = "kdj_k"
	KDJD        = "kdj_d"
	KDJJ        = "kdj_j"
	KDJOversold = "kdj_oversold"

	OBVTrend   = "obv_trend"
	OBVNewHigh = "obv_new_high"

	MAConvergence      = "ma_convergence"
	MABullishAlignment = "ma_bullish_alignment"
	MASmoothness       = "ma_smoothness"

	BollWidth    = "boll_width"
	BollPosition = "boll_position"
	BollSqueeze  = "boll_squeeze"

	CostDeviation     = "cost_deviation"
	ChipConcentration = "chip_concentration"

	BreakHigh20W = "break_high_20w"
	NearHigh20W  = "near_high_20w"
	BreakHigh40W = "break_high_40w"

	SidewaysWeeks = "sideways_weeks"

	LimitUpPrior2M = "limit_up_prior_2m"
)

// CoreFeatures carry triple weight in matching
var CoreFeatures = []string{
	StartVolumeRatio,
	PricePosition,
	VolumeShrink,
	PriceVsMA20,
	Volatility20W,
	BrokeMaxVolumeLow,
	MABullishAlignment,
	MACDAboveZero,
	RSI,
	MAConvergence,
	MASmoothness,
	BollWidth,
	OBVTrend,
	LimitUpPrior2M,
}

var coreSet = func() map[string]bool {
	m := make(map[string]bool, len(CoreFeatures))
	for _, n := range CoreFeatures {
		m[n] = true
	}
	return m
}()

// IsCore reports whether name is a core feature
func IsCore(name string) bool {
	return coreSet[name]
}

// legacyNames maps the feature keys of schema-1 model files
var legacyNames = map[string]string{
	"起点当周量比":      StartVolumeRatio,
	"起点前10周均量":    AvgVolume10W,
	"起点前20周均量":    AvgVolume20W,
	"起点前40周均量":    AvgVolume40W,
	"成交量萎缩程度":     VolumeShrink,
	"起点前40周最大量":   MaxVolume40W,
	"最大量对应最低价":    MaxVolumeLow,
	"是否跌破最大量最低价":  BrokeMaxVolumeLow,
	"相对最大量最低价跌幅":  DropBelowMaxVolumeLow,
	"起点量比最大量":     StartVolumeVsMax,
	"价格相对位置":      PricePosition,
	"相对高点跌幅":      DropFromHigh20W,
	"起点前20周最高价":   High20W,
	"起点前20周最低价":   Low20W,
	"起点前40周最高价":   High40W,
	"起点前40周最低价":   Low40W,
	"起点前20周波动幅度":  Amplitude20W,
	"MA5值":        MA5,
	"MA10值":       MA10,
	"MA20值":       MA20,
	"MA40值":       MA40,
	"价格相对MA5":     PriceVsMA5,
	"价格相对MA10":    PriceVsMA10,
	"价格相对MA20":    PriceVsMA20,
	"价格相对MA40":    PriceVsMA40,
	"MA20斜率":      MA20Slope,
	"起点前20周量价相关系数": PriceVolumeCorr20W,
	"起点当周价涨":      StartPriceUp,
	"起点当周量增":      StartVolumeUp,
	"起点当周价涨量增":    StartPriceVolumeUp,
	"起点前10周波动率":   Volatility10W,
	"起点前20周波动率":   Volatility20W,
	"起点价格":        StartPrice,
	"MACD_DIF":    MACDDIF,
	"MACD_DEA":    MACDDEA,
	"MACD柱":       MACDHist,
	"MACD金叉":      MACDGoldenCross,
	"MACD零轴上方":    MACDAboveZero,
	"RSI":         RSI,
	"RSI超卖":       RSIOversold,
	"RSI强势区":      RSIStrong,
	"KDJ_K":       KDJK,
	"KDJ_D":       KDJD,
	"KDJ_J":       KDJJ,
	"KDJ超卖":       KDJOversold,
	"OBV趋势":       OBVTrend,
	"OBV创新高":      OBVNewHigh,
	"均线粘合度":       MAConvergence,
	"均线多头排列":      MABullishAlignment,
	"均线平滑度":       MASmoothness,
	"布林带宽度":       BollWidth,
	"布林带位置":       BollPosition,
	"布林带收窄":       BollSqueeze,
	"成本偏离度":       CostDeviation,
	"筹码集中度":       ChipConcentration,
	"突破20周高点":     BreakHigh20W,
	"接近20周高点":     NearHigh20W,
	"突破40周高点":     BreakHigh40W,
	"平台整理周数":      SidewaysWeeks,
	"买点前两月内曾涨停":   LimitUpPrior2M,
}

// CanonicalName translates a schema-1 key. Unknown keys are returned unchanged.
func CanonicalName(name string) string {
	if n, ok := legacyNames[name]; ok {
		return n
	}
	return name
}
