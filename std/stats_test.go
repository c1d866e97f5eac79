package std

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStatsLoggerWritesHeaderAndRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.csv")

	var c Counters
	c.PacketsIn = 10
	c.PacketsOut = 7
	c.ActiveClients = 3

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		StatsLogger(path, 10*time.Millisecond, &c, stop)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)
	<-done

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading stats file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "PacketsIn") {
		t.Fatalf("expected header row in output, got:\n%s", content)
	}
	if !strings.Contains(content, "10") || !strings.Contains(content, "7") {
		t.Fatalf("expected counter values in output, got:\n%s", content)
	}
}

func TestStatsLoggerNoopWithEmptyPath(t *testing.T) {
	var c Counters
	done := make(chan struct{})
	go func() {
		StatsLogger("", time.Second, &c, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected StatsLogger to return immediately for empty path")
	}
}
