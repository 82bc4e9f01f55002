package domain

import (
	"strings"
)

// Dataset is the metadata of a dataset held by the collection system.
type Dataset struct {
	ID                      string  `json:"datasetId"`
	SenderDatasetID         string  `json:"senderDatasetId"`
	Status                  Status  `json:"status"`
	DcCode                  string  `json:"dcCode"`
	LastMessageID           string  `json:"lastMessageId"`
	LastModifyingMessageID  string  `json:"lastModifyingMessageId"`
	LastValidationMessageID string  `json:"lastValidationMessageId"`
	Rows                    []Cells `json:"rows,omitempty"`
}

// SplitSenderID splits a sender dataset id such as FR1705.01 into the
// sender id and the version. ok is false when no version is present.
func SplitSenderID(senderDatasetID string) (senderID, version string, ok bool) {
	idx := strings.LastIndex(senderDatasetID, ".")
	if idx <= 0 || idx == len(senderDatasetID)-1 {
		return senderDatasetID, "", false
	}
	return senderDatasetID[:idx], senderDatasetID[idx+1:], true
}

// SenderDatasetID joins the sender id and the version of a report.
func (r *Report) SenderDatasetID() string {
	return r.SenderID + "." + r.Version
}

// Globals are the process-wide reference records injected as parents of
// every record: user settings and test preferences.
type Globals struct {
	Settings    Cells
	Preferences Cells
}

// Preference returns the code of a preference column.
func (g *Globals) Preference(col string) string {
	if g == nil || g.Preferences == nil {
		return ""
	}
	return g.Preferences[col].Value()
}
