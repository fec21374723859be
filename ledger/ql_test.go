package ledger

import (
	"path/filepath"
	"testing"
	"time"
)

func sampleEntries(start time.Time) []Entry {
	return []Entry{
		{Batch: "b1", PackageID: "p1", Title: "one", Container: "/out/one.zip", Bytes: 10, Status: StatusCreated, Finished: start},
		{Batch: "b1", PackageID: "p2", Title: "two", Status: StatusFailed, Error: "setup: disk on fire", Finished: start.Add(time.Minute)},
		{Batch: "b2", PackageID: "p3", Title: "three", Status: StatusFailed, Error: "copying data: canceled", Finished: start.Add(time.Hour)},
		{Batch: "b1", PackageID: "p4", ParentID: "fonds", Title: "four", Container: "/out/four.zip", Bytes: 4, Status: StatusCreated, Finished: start.Add(2 * time.Minute)},
	}
}

func ids(entries []Entry) string {
	var s string
	for _, e := range entries {
		s += e.PackageID + " "
	}
	return s
}

func testLedger(t *testing.T, l Ledger) {
	start := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	for _, e := range sampleEntries(start) {
		if err := l.Record(e); err != nil {
			t.Fatalf("Received %s", err.Error())
		}
	}

	var table = []struct {
		command string
		batch   string
		since   time.Time
		output  string
	}{
		{"Batch", "b1", time.Time{}, "p1 p2 p4 "},
		{"Batch", "b2", time.Time{}, "p3 "},
		{"Batch", "zzz", time.Time{}, ""},
		{"Failures", "", start, "p2 p3 "},
		{"Failures", "", start.Add(30 * time.Minute), "p3 "},
		{"Failures", "", start.Add(24 * time.Hour), ""},
	}
	for _, tab := range table {
		var result []Entry
		var err error
		switch tab.command {
		case "Batch":
			result, err = l.Batch(tab.batch)
		case "Failures":
			result, err = l.Failures(tab.since)
		}
		if err != nil {
			t.Errorf("%v: error %s", tab, err.Error())
			continue
		}
		if got := ids(result); got != tab.output {
			t.Errorf("%v: Received %q, expected %q", tab, got, tab.output)
		}
	}

	result, _ := l.Batch("b1")
	if len(result) != 3 {
		t.Fatalf("Received %d entries, expected 3", len(result))
	}
	e := result[2]
	if e.ParentID != "fonds" || e.Container != "/out/four.zip" || e.Bytes != 4 ||
		e.Status != StatusCreated || !e.Finished.Equal(start.Add(2*time.Minute)) {
		t.Errorf("Received %+v", e)
	}
	if result[1].Error != "setup: disk on fire" {
		t.Errorf("Received error %q", result[1].Error)
	}
}

func TestQlLedger(t *testing.T) {
	l, err := NewQL("memory")
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	defer l.Close()
	testLedger(t, l)
}

func TestQlLedgersSeparate(t *testing.T) {
	l1, _ := NewQL("memory")
	defer l1.Close()
	l2, _ := NewQL("memory")
	defer l2.Close()
	l1.Record(Entry{Batch: "b", PackageID: "p", Status: StatusCreated, Finished: time.Now()})
	result, err := l2.Batch("b")
	if err != nil || len(result) != 0 {
		t.Errorf("Received %v, %v, expected nothing", result, err)
	}
}

func TestQlFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(name)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	l.Record(Entry{Batch: "b", PackageID: "p", Status: StatusCreated, Finished: time.Now()})
	l.Close()

	// reopening keeps the entries
	l, err = Open(name)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	defer l.Close()
	result, err := l.Batch("b")
	if err != nil || len(result) != 1 {
		t.Errorf("Received %v, %v, expected one entry", result, err)
	}
}

func TestOpenEmpty(t *testing.T) {
	_, err := Open("")
	if err != ErrNoDSN {
		t.Errorf("Received %v, expected ErrNoDSN", err)
	}
}
