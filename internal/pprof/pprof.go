// Package pprof exposes runtime profiles of the sync server, either on a
// separate debug listener or as profile files written at shutdown.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/referencer/refsync/internal/logger"
)

// Config holds the profiling configuration
type Config struct {
	HTTPAddr    string // debug listener, e.g. "localhost:6060"
	CPUProfile  string // CPU profile written while the server runs
	HeapProfile string // heap profile written by Stop
}

// Enabled reports whether any profiling is configured.
func (c Config) Enabled() bool {
	return c.HTTPAddr != "" || c.CPUProfile != "" || c.HeapProfile != ""
}

// Handler manages profiling
type Handler struct {
	config   Config
	server   *http.Server
	listener net.Listener
	cpuFile  *os.File
	log      *logger.Logger

	mu      sync.Mutex
	stopped bool
}

// NewHandler creates a new profiling handler
func NewHandler(config Config) *Handler {
	return &Handler{config: config, log: logger.Global().WithPrefix("pprof")}
}

// Start begins CPU profiling and opens the debug listener as configured.
func (h *Handler) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.config.CPUProfile != "" {
		f, err := create(h.config.CPUProfile)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start CPU profiling: %w", err)
		}
		h.cpuFile = f
	}

	if h.config.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", netpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", netpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", netpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", netpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", netpprof.Trace)

		ln, err := net.Listen("tcp", h.config.HTTPAddr)
		if err != nil {
			h.stopCPU()
			return fmt.Errorf("failed to bind pprof listener: %w", err)
		}
		h.listener = ln
		h.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		go func() {
			if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.log.Error("pprof server error: %v", err)
			}
		}()
		h.log.Info("Profiling endpoints on http://%s/debug/pprof/", ln.Addr())
	}
	return nil
}

// Addr returns the address of the debug listener, or nil if there is none.
func (h *Handler) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop finishes the CPU profile, writes the heap profile and closes the
// debug listener.
func (h *Handler) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true

	var errs []error
	if err := h.stopCPU(); err != nil {
		errs = append(errs, err)
	}

	if h.config.HeapProfile != "" {
		if err := writeProfile("heap", h.config.HeapProfile); err != nil {
			errs = append(errs, err)
		}
	}

	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown pprof server: %w", err))
		}
		h.server = nil
		h.listener = nil
	}
	return errors.Join(errs...)
}

func (h *Handler) stopCPU() error {
	if h.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := h.cpuFile.Close()
	h.cpuFile = nil
	if err != nil {
		return fmt.Errorf("failed to close CPU profile: %w", err)
	}
	return nil
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile file: %w", err)
	}
	return f, nil
}

// writeProfile writes a named profile to a file
func writeProfile(name, path string) error {
	p := pprof.Lookup(name)
	if p == nil {
		return fmt.Errorf("profile %q not found", name)
	}
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := p.WriteTo(f, 0); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}
	return nil
}
