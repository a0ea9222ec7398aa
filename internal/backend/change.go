package backend

// Change types, as emitted by both the cloud trigger and the LAN server.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

// Change notifies that a row in Table changed. Record is set when the source
// ships the row itself; subscribers that need the full row set re-fetch.
type Change struct {
	Table    string `json:"table"`
	Type     string `json:"type,omitempty"`
	RecordID string `json:"id,omitempty"`
	Record   Record `json:"record,omitempty"`
}
