package backend

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Ident is an identifier the backend may encode either as a JSON string or a number
// (GL codes, note numbers).
type Ident string

// UnmarshalJSON accepts strings, numbers and null.
func (i *Ident) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*i = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*i = Ident(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*i = Ident(n.String())
	return nil
}

// String returns the identifier text.
func (i Ident) String() string { return string(i) }

// Entity is a legal or reporting unit known to the backend.
type Entity struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	ShortCode string `json:"short_code"`
}

// PeriodsResponse lists the reporting periods of an entity.
type PeriodsResponse struct {
	AvailablePeriods    map[string]string `json:"available_periods"`
	PeriodDisplayNames  map[string]string `json:"period_display_names,omitempty"`
	CurrentPeriod       string            `json:"current_period"`
	CurrentPeriodColumn string            `json:"current_period_column"`
}

// SetPeriodResponse is returned after changing the active period.
type SetPeriodResponse struct {
	Success      bool   `json:"success"`
	PeriodKey    string `json:"period_key"`
	PeriodColumn string `json:"period_column"`
	Message      string `json:"message,omitempty"`
}

// AddPeriodResponse is returned after registering a custom period.
type AddPeriodResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// CurrencyInfo describes the local (base) currency of an entity.
type CurrencyInfo struct {
	EntityName      string `json:"entity_name"`
	DefaultCurrency string `json:"default_currency"`
	CurrencySymbol  string `json:"currency_symbol"`
	CurrencyName    string `json:"currency_name"`
	DecimalPlaces   int    `json:"decimal_places"`
	Format          string `json:"format"`
}

// FxRate converts one unit of BaseCurrency into TargetCurrency.
type FxRate struct {
	BaseCurrency   string          `json:"base_currency"`
	TargetCurrency string          `json:"target_currency"`
	Rate           decimal.Decimal `json:"rate"`
	AsOf           string          `json:"as_of"`
	Source         string          `json:"source"`
}

// CurrencyCode is a reporting currency entry, sent either as a bare code or as an object.
type CurrencyCode string

// UnmarshalJSON accepts "USD" or {"code":"USD"} / {"default_currency":"USD"}.
func (c *CurrencyCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CurrencyCode(s)
		return nil
	}
	var obj struct {
		Code            string `json:"code"`
		DefaultCurrency string `json:"default_currency"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Code != "" {
		*c = CurrencyCode(obj.Code)
	} else {
		*c = CurrencyCode(obj.DefaultCurrency)
	}
	return nil
}

// CurrencyContext bundles the local currency and FX rates of an entity.
type CurrencyContext struct {
	Entity              string         `json:"entity"`
	LocalCurrency       *CurrencyInfo  `json:"local_currency"`
	ReportingCurrencies []CurrencyCode `json:"reporting_currencies"`
	Rates               []FxRate       `json:"rates"`
	LastRefreshed       string         `json:"last_refreshed"`
}

// FileInfo describes a stored artifact. The backend lists files either as bare
// filenames or as objects; both decode into this shape.
type FileInfo struct {
	Filename    string `json:"filename"`
	FilePath    string `json:"file_path,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	GeneratedAt string `json:"generated_at,omitempty"`
	ModifiedAt  string `json:"modified_at,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

// UnmarshalJSON normalises string and object file entries.
func (f *FileInfo) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*f = FileInfo{Filename: name}
		return nil
	}
	type alias FileInfo
	var raw struct {
		alias
		Name string `json:"name"`
		Size *int64 `json:"size"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = FileInfo(raw.alias)
	if f.Filename == "" {
		f.Filename = raw.Name
	}
	if f.SizeBytes == 0 && raw.Size != nil {
		f.SizeBytes = *raw.Size
	}
	return nil
}

// FileListing groups files by category.
type FileListing map[string][]FileInfo

// Preview is the tabular preview of a stored file.
type Preview struct {
	Filename     string   `json:"filename"`
	TotalRows    int      `json:"total_rows"`
	TotalColumns int      `json:"total_columns"`
	Columns      []string `json:"columns"`
	Rows         []any    `json:"rows"`
}

// UnmarshalJSON accepts the row payload under either "rows" or "data".
func (p *Preview) UnmarshalJSON(data []byte) error {
	type alias Preview
	var raw struct {
		alias
		Data []any `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Preview(raw.alias)
	if len(p.Rows) == 0 && len(raw.Data) > 0 {
		p.Rows = raw.Data
	}
	if p.TotalRows == 0 {
		p.TotalRows = len(p.Rows)
	}
	if p.TotalColumns == 0 {
		p.TotalColumns = len(p.Columns)
	}
	return nil
}

// Truncated reports whether the backend returned fewer rows than the file holds.
func (p Preview) Truncated() bool {
	return p.TotalRows > len(p.Rows)
}

// Download is the raw content of a stored file.
type Download struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Readiness reports whether all prerequisite notes exist for a statement type.
type Readiness struct {
	IsReady                bool           `json:"is_ready"`
	TotalFound             int            `json:"total_found"`
	TotalRequired          int            `json:"total_required"`
	CompletenessPercentage float64        `json:"completeness_percentage"`
	MissingNotes           []Ident        `json:"missing_notes"`
	FoundNotes             []Ident        `json:"found_notes"`
	Config                 map[string]any `json:"config"`
}

// GenerateRequest triggers a statement generation.
type GenerateRequest struct {
	PeriodLabel string `json:"period_label"`
	Currency    string `json:"currency"`
	Scenario    string `json:"scenario,omitempty"`
}

// GenerateResponse is the backend acknowledgement of a generation.
type GenerateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// AdjustmentRecord is a single manual adjustment line.
type AdjustmentRecord struct {
	Account        Ident           `json:"account"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	Description    string          `json:"description"`
	Classification string          `json:"classification"`
	Compliance     map[string]any  `json:"compliance,omitempty"`
	FileSource     string          `json:"file_source"`
}

// ClassificationSummary aggregates adjustments sharing a classification.
type ClassificationSummary struct {
	Count       int             `json:"count"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
}

// AdjustmentAnalysis is the backend analysis of uploaded adjustments.
type AdjustmentAnalysis struct {
	TotalAdjustments        int                              `json:"total_adjustments"`
	TotalFiles              int                              `json:"total_files"`
	SummaryByClassification map[string]ClassificationSummary `json:"summary_by_classification"`
	Adjustments             []AdjustmentRecord               `json:"adjustments"`
}

// GLChange is the before/after balance of a single GL code.
type GLChange struct {
	GLCode   Ident           `json:"gl_code"`
	GLName   string          `json:"gl_name"`
	Category string          `json:"category"`
	Before   decimal.Decimal `json:"before"`
	After    decimal.Decimal `json:"after"`
	Change   decimal.Decimal `json:"change"`
}

// CategoryImpact summarises adjustment impact on a reporting category.
type CategoryImpact struct {
	Category  string          `json:"category"`
	TotalGLs  int             `json:"total_gls"`
	Before    decimal.Decimal `json:"before"`
	After     decimal.Decimal `json:"after"`
	Change    decimal.Decimal `json:"change"`
	GLChanges []GLChange      `json:"gl_changes"`
}

// ImpactSummary is the precomputed impact dataset.
type ImpactSummary struct {
	TotalAdjustments int              `json:"total_adjustments"`
	Categories       []CategoryImpact `json:"categories"`
	GLChanges        []GLChange       `json:"gl_changes"`
}

// UploadFile is one file forwarded to an upload endpoint.
type UploadFile struct {
	Name    string
	Content []byte
}
