package model

// Row is one load-board posting row. Fields holds exactly one value per
// export header; the remaining fields are bookkeeping for verification and
// are never written to the output file.
type Row struct {
	Fields    map[string]string `json:"fields"`
	OriginKMA string            `json:"origin_kma"`
	DestKMA   string            `json:"dest_kma"`
	PairIndex int               `json:"pair_index"`
}

// Get returns the value for a header, or "" when absent.
func (r Row) Get(header string) string {
	return r.Fields[header]
}
