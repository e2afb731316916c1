package builtin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/types"
)

// ConsoleLogger writes phase records as JSON lines to stdout
type ConsoleLogger struct {
	mu  sync.Mutex
	out io.Writer
}

func (l *ConsoleLogger) Init(config map[string]any) error {
	l.out = os.Stdout
	return nil
}

func (l *ConsoleLogger) Log(rec types.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

func (l *ConsoleLogger) Flush() error {
	return nil
}

func (l *ConsoleLogger) Shutdown() error {
	return nil
}

// FileLogger appends phase records as JSON lines to a file
type FileLogger struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
}

// Init requires path
func (l *FileLogger) Init(config map[string]any) error {
	path, _ := config["path"].(string)
	if path == "" {
		return fmt.Errorf("file logger requires a path")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	l.file = f
	l.buf = bufio.NewWriter(f)
	return nil
}

func (l *FileLogger) Log(rec types.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	l.mu.Lock()
	l.buf.Write(data)
	l.buf.WriteByte('\n')
	l.mu.Unlock()
}

func (l *FileLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf == nil {
		return nil
	}
	return l.buf.Flush()
}

func (l *FileLogger) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf != nil {
		l.buf.Flush()
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

var (
	_ connector.Logger = (*ConsoleLogger)(nil)
	_ connector.Logger = (*FileLogger)(nil)
)
