package request

// JobRequest is one archive extraction request as read from the jobs file.
// Values are passed through untouched; the archive service validates them.
type JobRequest struct {
	StartDateTime   string `json:"startDateTime"`
	EndDateTime     string `json:"endDateTime"`
	Location        string `json:"location"`
	Format          string `json:"format"`
	Units           string `json:"units"`
	ResultsLocation string `json:"resultsLocation"`
}

// Record is a JobRequest together with its 1-based data row number.
type Record struct {
	Line    int
	Request JobRequest
}

type field int

const (
	fieldStartDateTime field = iota
	fieldEndDateTime
	fieldLocation
	fieldFormat
	fieldUnits
	fieldResultsLocation
	fieldCount
)

// requiredFields maps normalized header names to request fields.
var requiredFields = map[string]field{
	"startdatetime":   fieldStartDateTime,
	"enddatetime":     fieldEndDateTime,
	"location":        fieldLocation,
	"format":          fieldFormat,
	"units":           fieldUnits,
	"resultslocation": fieldResultsLocation,
}

var fieldNames = [fieldCount]string{
	fieldStartDateTime:   "startDateTime",
	fieldEndDateTime:     "endDateTime",
	fieldLocation:        "location",
	fieldFormat:          "format",
	fieldUnits:           "units",
	fieldResultsLocation: "resultsLocation",
}

func (f field) String() string {
	return fieldNames[f]
}

func (r *JobRequest) set(f field, value string) {
	switch f {
	case fieldStartDateTime:
		r.StartDateTime = value
	case fieldEndDateTime:
		r.EndDateTime = value
	case fieldLocation:
		r.Location = value
	case fieldFormat:
		r.Format = value
	case fieldUnits:
		r.Units = value
	case fieldResultsLocation:
		r.ResultsLocation = value
	}
}
