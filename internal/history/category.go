package history

// UI category labels shown as tabs in the customer detail view.
const (
	CategoryNotes    = "Notizen"
	CategoryOrders   = "Bestellungen"
	CategoryServices = "Leistungen"
	CategoryAppoint  = "Termin"
	CategoryPayments = "Zahlungen"
	CategoryEmails   = "E-mails"

	// TabChart is the overview tab; filtering by it shows every date.
	TabChart = "Diagramm"
)

// DefaultCategory is used when a note is added without a category.
const DefaultCategory = CategoryNotes

// UICategories lists the UI vocabulary in tab order.
var UICategories = []string{
	CategoryNotes,
	CategoryOrders,
	CategoryServices,
	CategoryAppoint,
	CategoryPayments,
	CategoryEmails,
}

// The two vocabularies only differ where a label is listed here.
var uiToAPI = map[string]string{
	CategoryEmails: "Emails",
}

var apiToUI = func() map[string]string {
	m := make(map[string]string, len(uiToAPI))
	for ui, api := range uiToAPI {
		m[api] = ui
	}
	return m
}()

// ToAPICategory maps a UI label to the API vocabulary. Unknown labels pass through.
func ToAPICategory(ui string) string {
	if api, ok := uiToAPI[ui]; ok {
		return api
	}
	return ui
}

// ToUICategory maps an API category to the UI vocabulary. Unknown values pass through.
func ToUICategory(api string) string {
	if ui, ok := apiToUI[api]; ok {
		return ui
	}
	return api
}

// IsUICategory reports whether label belongs to the fixed UI set.
func IsUICategory(label string) bool {
	for _, c := range UICategories {
		if c == label {
			return true
		}
	}
	return false
}
