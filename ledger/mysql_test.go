//go:build integration
// +build integration

package ledger

import (
	"flag"
	"testing"
)

var dialmysql = flag.String("mysql", "/test?parseTime=true", "Dial for mysql")

func TestMySQLLedger(t *testing.T) {
	l, err := NewMySQL(*dialmysql)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	defer l.Close()
	testLedger(t, l)
}
