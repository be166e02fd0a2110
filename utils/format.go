package utils

import (
	"fmt"
	"strings"
)

// FormatNaira renders an amount as "₦12,345.67".
func FormatNaira(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}
	whole := fmt.Sprintf("%.2f", amount)
	parts := strings.SplitN(whole, ".", 2)

	digits := parts[0]
	var grouped []string
	for len(digits) > 3 {
		grouped = append([]string{digits[len(digits)-3:]}, grouped...)
		digits = digits[:len(digits)-3]
	}
	grouped = append([]string{digits}, grouped...)

	sign := ""
	if negative {
		sign = "-"
	}
	return sign + "₦" + strings.Join(grouped, ",") + "." + parts[1]
}
