package marketdata

import "strings"

// Board names
const (
	BoardMain    = "Main"
	BoardChiNext = "ChiNext"
	BoardSTAR    = "STAR"
	BoardBJ      = "BJ"
)

// BoardInfo returns the listing board of code and its daily limit-up percent
func BoardInfo(code string) (string, float64) {
	switch {
	case strings.HasPrefix(code, "300"), strings.HasPrefix(code, "301"):
		return BoardChiNext, 20
	case strings.HasPrefix(code, "688"):
		return BoardSTAR, 20
	case strings.HasPrefix(code, "92"), strings.HasPrefix(code, "8"), strings.HasPrefix(code, "4"):
		return BoardBJ, 30
	default:
		return BoardMain, 10
	}
}
