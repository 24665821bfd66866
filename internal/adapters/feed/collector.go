// Package feed reads classified errors as JSON lines from a file, a named
// pipe or stdin, the way external error decoders hand them over.
package feed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

// Config selects the feed source. Path "-" reads stdin.
type Config struct {
	Path string `yaml:"path"`
}

// maxLineBytes bounds one decoder line; longer lines are skipped.
const maxLineBytes = 64 << 10

// Collector decodes one classified error per line, for example
//
//	{"unit":3,"kind":"corrected","magnitude":2,"time":"2024-05-01T10:00:00Z"}
//
// A corrected error without a magnitude counts as one. Malformed and
// oversized lines are logged and skipped.
type Collector struct {
	cfg Config
	obs ports.Observability

	mu       sync.Mutex
	src      io.ReadCloser
	stop     chan struct{}
	done     chan struct{}
	detached bool // closing src does not unblock a pending read
	started  bool
}

func NewCollector(cfg Config, obs ports.Observability) (*Collector, error) {
	if cfg.Path == "" {
		return nil, errors.New("feed: path is required")
	}
	return &Collector{cfg: cfg, obs: obs}, nil
}

// NewReaderCollector feeds from an already open reader.
func NewReaderCollector(r io.ReadCloser, obs ports.Observability) *Collector {
	return &Collector{cfg: Config{Path: "reader"}, obs: obs, src: r}
}

func (c *Collector) Name() string { return "feed" }

func (c *Collector) Start(out chan<- *domain.ClassifiedError) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("feed collector already started")
	}
	if c.done != nil {
		select {
		case <-c.done:
		default:
			return errors.New("feed: previous reader still waiting for input")
		}
	}
	if c.src == nil {
		src, detached, err := openSource(c.cfg.Path)
		if err != nil {
			return err
		}
		c.src, c.detached = src, detached
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.started = true

	go c.read(c.src, c.stop, c.done, out)
	c.obs.LogInfo("feed_collector_started", ports.F("path", c.cfg.Path))
	return nil
}

func openSource(path string) (io.ReadCloser, bool, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), true, nil
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, false, fmt.Errorf("feed: %w", err)
	}
	flag := os.O_RDONLY
	if st.Mode()&os.ModeNamedPipe != 0 {
		// Holding a write end keeps the pipe open across decoder restarts.
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, false, fmt.Errorf("feed: %w", err)
	}
	return f, false, nil
}

// Stop ends the feed. For stdin it returns without waiting: the reader
// leaves at its next line or at EOF and delivers nothing after Stop.
func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	close(c.stop)
	src, done, detached := c.src, c.done, c.detached
	c.src = nil
	c.mu.Unlock()

	err := src.Close()
	if !detached {
		<-done
	}
	return err
}

func (c *Collector) read(src io.Reader, stop <-chan struct{}, done chan<- struct{}, out chan<- *domain.ClassifiedError) {
	defer close(done)

	r := bufio.NewReaderSize(src, maxLineBytes)
	line := 0
	for {
		raw, err := r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			line++
			c.obs.LogWarn("feed_line_too_long",
				ports.F("path", c.cfg.Path),
				ports.F("line", line),
				ports.F("limit", maxLineBytes))
			raw, err = nil, discardLine(r)
		} else if len(raw) > 0 {
			line++
		}

		select {
		case <-stop:
			return
		default:
		}
		if ev := c.decode(raw, line); ev != nil {
			select {
			case <-stop:
				return
			case out <- ev:
			}
		}

		if err != nil {
			if err == io.EOF {
				c.obs.LogInfo("feed_exhausted", ports.F("path", c.cfg.Path), ports.F("lines", line))
			} else {
				c.obs.LogError("feed_read_failed", err, ports.F("path", c.cfg.Path))
			}
			return
		}
	}
}

// discardLine consumes the rest of an oversized line.
func discardLine(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func (c *Collector) decode(raw []byte, line int) *domain.ClassifiedError {
	raw = bytes.TrimRight(raw, "\r\n")
	if len(raw) == 0 {
		return nil
	}
	ev, err := decodeLine(raw)
	if err != nil {
		c.obs.LogWarn("feed_line_invalid",
			ports.F("path", c.cfg.Path),
			ports.F("line", line),
			ports.F("err", err.Error()))
		return nil
	}
	return ev
}

func decodeLine(raw []byte) (*domain.ClassifiedError, error) {
	var ev domain.ClassifiedError
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	if !ev.Kind.Valid() {
		return nil, fmt.Errorf("missing or invalid kind")
	}
	if ev.Kind == domain.Corrected && ev.Magnitude == 0 {
		ev.Magnitude = 1
	}
	if ev.Source == "" {
		ev.Source = "feed"
	}
	return &ev, nil
}

var _ ports.Collector = (*Collector)(nil)
