package model

import "testing"

func TestRowPadded(t *testing.T) {
	tests := []struct {
		name string
		row  Row
		want Row
	}{
		{name: "short", row: Row{"a", "b"}, want: Row{"a", "b", "", ""}},
		{name: "exact", row: Row{"a", "b", "c", "d"}, want: Row{"a", "b", "c", "d"}},
		{name: "long", row: Row{"a", "b", "c", "d", "e"}, want: Row{"a", "b", "c", "d"}},
		{name: "nil", row: nil, want: Row{"", "", "", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.row.Padded()
			if len(got) != Columns {
				t.Fatalf("Padded() len = %d, want %d", len(got), Columns)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Padded()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRowIsHeader(t *testing.T) {
	if !HeaderRow.IsHeader() {
		t.Error("HeaderRow.IsHeader() = false")
	}
	if (Row{"From", "Subject", "Date"}).IsHeader() {
		t.Error("truncated header accepted as header")
	}
	if (Record{Sender: "a@x.com", Subject: "Hi"}).Row().IsHeader() {
		t.Error("data row reported as header")
	}
}

func TestPartMediaType(t *testing.T) {
	p := Part{MimeType: "Text/Plain; charset=UTF-8"}
	if got := p.MediaType(); got != "text/plain" {
		t.Errorf("MediaType() = %q, want text/plain", got)
	}
}
