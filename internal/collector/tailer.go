package collector

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// LogTailer streams parsed events from the server log: a one-time seed
// pass over existing content, then an indefinite live follow of appended
// lines. All seed events are delivered before any live event. If the
// follow loop dies (rotation, deletion, I/O error) it is respawned after
// a fixed backoff; the seed pass is never repeated.
type LogTailer struct {
	path     string
	interval time.Duration
	backoff  time.Duration

	file     *os.File
	lastInfo os.FileInfo // identity of the file the position refers to
	position int64

	Events chan LogEvent
	Errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewLogTailer creates a tailer for the given log path.
func NewLogTailer(path string, interval, backoff time.Duration) *LogTailer {
	return &LogTailer{
		path:     path,
		interval: interval,
		backoff:  backoff,
		Events:   make(chan LogEvent, 256),
		Errors:   make(chan error, 16),
		done:     make(chan struct{}),
	}
}

// Seed replays the existing file content synchronously, invoking handler
// for every parsed event with Seed=true. A missing file is not an error:
// seeding is skipped and the tailer starts from an empty state.
func (t *LogTailer) Seed(handler func(LogEvent)) error {
	file, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", t.path).Msg("log file missing, skipping seed pass")
			return nil
		}
		return fmt.Errorf("opening log file: %w", err)
	}
	defer file.Close()

	if stat, err := file.Stat(); err == nil {
		t.lastInfo = stat
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Partial trailing line stays unconsumed; the live follow
			// will pick it up once the newline arrives.
			break
		}
		if err != nil {
			return fmt.Errorf("reading line: %w", err)
		}
		t.position += int64(len(line))

		event, perr := ParseLine(strings.TrimRight(line, "\n"))
		if perr != nil {
			log.Debug().Err(perr).Msg("dropped unparsed seed line")
			continue
		}
		if event != nil {
			event.Seed = true
			handler(*event)
		}
	}

	return nil
}

// Start begins the live follow from the position the seed pass reached.
func (t *LogTailer) Start() {
	t.wg.Add(1)
	go t.superviseLoop()
}

// Stop stops the tailer and waits for the follow goroutine to exit.
func (t *LogTailer) Stop() {
	close(t.done)
	t.wg.Wait()
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

// superviseLoop runs the follow loop and respawns it after a fixed
// backoff whenever it dies. Respawns resume live-only tailing.
func (t *LogTailer) superviseLoop() {
	defer t.wg.Done()

	for {
		err := t.followLoop()
		if err == nil {
			return // clean shutdown
		}

		t.reportError(err)
		log.Warn().Err(err).Dur("backoff", t.backoff).Msg("log follower died, respawning")

		if t.file != nil {
			t.file.Close()
			t.file = nil
		}

		select {
		case <-t.done:
			return
		case <-time.After(t.backoff):
		}
	}
}

// followLoop polls the file for appended content until shutdown (nil) or
// a follow failure (non-nil).
func (t *LogTailer) followLoop() error {
	if t.file == nil {
		file, err := os.Open(t.path)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		t.file = file

		stat, err := file.Stat()
		if err != nil {
			return fmt.Errorf("stat file: %w", err)
		}
		// The position only carries over when this is still the file it
		// was measured against. A replaced or shrunken file restarts
		// from the top.
		if t.lastInfo == nil || !os.SameFile(t.lastInfo, stat) || stat.Size() < t.position {
			t.position = 0
		}
		t.lastInfo = stat
		if _, err := file.Seek(t.position, io.SeekStart); err != nil {
			return fmt.Errorf("seeking to resume position: %w", err)
		}
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return nil
		case <-ticker.C:
			if err := t.readNewContent(); err != nil {
				return err
			}
		}
	}
}

// readNewContent reads any new complete lines since the last read.
func (t *LogTailer) readNewContent() error {
	stat, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	// Rename-style rotation: the path now points at a different file
	// than the one held open. Die and let the supervisor reopen.
	pathStat, err := os.Stat(t.path)
	if err != nil {
		return fmt.Errorf("stat path: %w", err)
	}
	if !os.SameFile(stat, pathStat) {
		return fmt.Errorf("log file replaced at %s", t.path)
	}

	// Handle copytruncate: file size smaller than position
	if stat.Size() < t.position {
		t.position = 0
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("seeking to start after truncate: %w", err)
		}
	}

	if stat.Size() == t.position {
		return nil
	}

	reader := bufio.NewReader(t.file)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Partial line - don't advance position past it
			if _, serr := t.file.Seek(t.position, io.SeekStart); serr != nil {
				return fmt.Errorf("rewinding past partial line: %w", serr)
			}
			break
		}
		if err != nil {
			return fmt.Errorf("reading line: %w", err)
		}
		t.position += int64(len(line))

		event, perr := ParseLine(strings.TrimRight(line, "\n"))
		if perr != nil {
			t.reportError(perr)
			continue
		}
		if event == nil {
			continue
		}

		// Block rather than drop: order and at-least-once delivery
		// matter more than shedding load here.
		select {
		case t.Events <- *event:
		case <-t.done:
			return nil
		}
	}

	return nil
}

// reportError surfaces a diagnostic without ever blocking the follower.
func (t *LogTailer) reportError(err error) {
	select {
	case t.Errors <- err:
	default:
	}
}
