package utils

import "strings"

// Bank holds a display name and its CBN/NIP institution code.
type Bank struct {
	Name string
	Code string
}

// bankAliases maps the spellings users actually type to banks. Keys are
// lowercase; lookups strip the words "bank" and "plc".
var bankAliases = map[string]Bank{
	"access":          {"Access Bank", "044"},
	"citibank":        {"Citibank Nigeria", "023"},
	"ecobank":         {"Ecobank Nigeria", "050"},
	"fcmb":            {"FCMB", "214"},
	"fidelity":        {"Fidelity Bank", "070"},
	"first":           {"First Bank of Nigeria", "011"},
	"firstbank":       {"First Bank of Nigeria", "011"},
	"gtb":             {"Guaranty Trust Bank", "058"},
	"gtbank":          {"Guaranty Trust Bank", "058"},
	"guaranty trust":  {"Guaranty Trust Bank", "058"},
	"heritage":        {"Heritage Bank", "030"},
	"jaiz":            {"Jaiz Bank", "301"},
	"keystone":        {"Keystone Bank", "082"},
	"kuda":            {"Kuda Microfinance Bank", "50211"},
	"moniepoint":      {"Moniepoint MFB", "50515"},
	"opay":            {"OPay", "999992"},
	"palmpay":         {"PalmPay", "999991"},
	"polaris":         {"Polaris Bank", "076"},
	"providus":        {"Providus Bank", "101"},
	"stanbic":         {"Stanbic IBTC Bank", "221"},
	"standard chartered": {"Standard Chartered", "068"},
	"sterling":        {"Sterling Bank", "232"},
	"uba":             {"United Bank for Africa", "033"},
	"union":           {"Union Bank of Nigeria", "032"},
	"unity":           {"Unity Bank", "215"},
	"wema":            {"Wema Bank", "035"},
	"zenith":          {"Zenith Bank", "057"},
}

// ResolveBank maps a user-typed bank name to its canonical name and code.
func ResolveBank(name string) (Bank, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimSuffix(key, " plc")
	key = strings.TrimSuffix(key, " bank")
	key = strings.TrimSpace(key)
	if bank, ok := bankAliases[key]; ok {
		return bank, true
	}
	// Some users type the full display name with "bank" in the middle.
	for alias, bank := range bankAliases {
		if key == strings.ToLower(bank.Name) || key == alias {
			return bank, true
		}
	}
	return Bank{}, false
}
