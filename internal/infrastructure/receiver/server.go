// Package receiver is a small console log endpoint for trying the relay
// locally and for end-to-end tests. It accepts the batches the relay client
// sends, checks them against the wire schema and keeps them in memory.
package receiver

import (
	"bytes"
	"context"
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/xeipuuv/gojsonschema"

	"consolerelay.dev/cli/internal/core/chunk"
	"consolerelay.dev/cli/internal/infrastructure/api"
)

//go:embed schemas/batch.v1.schema.json
var batchSchema []byte

// DefaultAddr is the listen address used when none is given
const DefaultAddr = "127.0.0.1:8089"

// LogPath is the route batches are posted to
const LogPath = "/log"

const maxBodyBytes = 16 << 20

// Options configures the receiver
type Options struct {
	// Username and Credential enable authentication when Credential is set.
	// With a username the receiver expects basic auth, otherwise a bearer token.
	Username   string
	Credential string

	// Output receives every accepted chunk as "[build seq stream] content"
	Output io.Writer
	Logger *slog.Logger
}

// Received is one accepted batch
type Received struct {
	Batch      api.BatchDto
	Chunks     []chunk.LogChunk
	ReceivedAt time.Time
}

type buildState struct {
	lastSeq  uint64
	batchIDs map[string]struct{}
	final    bool
}

// Server receives console batches over HTTP
type Server struct {
	addr   string
	opts   Options
	schema *gojsonschema.Schema
	logger *slog.Logger

	mu       sync.Mutex
	received []Received
	builds   map[string]*buildState

	server   *http.Server
	listener net.Listener
}

// NewServer creates a receiver listening on addr once started
func NewServer(addr string, opts Options) (*Server, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(batchSchema))
	if err != nil {
		return nil, fmt.Errorf("loading batch schema: %w", err)
	}
	return &Server{
		addr:   addr,
		opts:   opts,
		schema: schema,
		logger: logger,
		builds: make(map[string]*buildState),
	}, nil
}

// Handler returns the gin engine serving the receiver routes
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.authenticate)

	r.HEAD(LogPath, s.handleProbe)
	r.GET(LogPath, s.handleProbe)
	r.POST(LogPath, s.handleBatch)
	return r
}

// Start begins serving in the background
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	s.logger.Info("receiver listening", "url", s.URL())

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("receiver stopped", "error", err)
		}
	}()
	return nil
}

// URL returns the endpoint URL clients should post to
func (s *Server) URL() string {
	addr := s.addr
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	return "http://" + addr + LogPath
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Batches returns the accepted batches in arrival order
func (s *Server) Batches() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Received, len(s.received))
	copy(out, s.received)
	return out
}

// Chunks returns every accepted chunk for buildID in sequence order
func (s *Server) Chunks(buildID string) []chunk.LogChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	var chunks []chunk.LogChunk
	for _, r := range s.received {
		if r.Batch.BuildID == buildID {
			chunks = append(chunks, r.Chunks...)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Sequence < chunks[j].Sequence })
	return chunks
}

// Completed reports whether the final batch of buildID has arrived
func (s *Server) Completed(buildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.builds[buildID]
	return ok && state.final
}

func (s *Server) authenticate(c *gin.Context) {
	if s.opts.Credential == "" {
		c.Next()
		return
	}

	var ok bool
	if s.opts.Username != "" {
		user, pass, hasBasic := c.Request.BasicAuth()
		ok = hasBasic && equal(user, s.opts.Username) && equal(pass, s.opts.Credential)
	} else {
		token, hasBearer := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		ok = hasBearer && equal(token, s.opts.Credential)
	}

	if !ok {
		s.logger.Warn("rejected unauthenticated request", "method", c.Request.Method, "remote", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	c.Next()
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleProbe(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (s *Server) handleBatch(c *gin.Context) {
	body, err := readBody(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "batch does not match schema", "details": problems})
		return
	}

	var dto api.BatchDto
	if err := json.Unmarshal(body, &dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	chunks := make([]chunk.LogChunk, len(dto.Chunks))
	for i, cd := range dto.Chunks {
		ch, err := cd.ToChunk()
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		if i > 0 && ch.Sequence != chunks[i-1].Sequence+1 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "chunk sequence is not contiguous"})
			return
		}
		chunks[i] = ch
	}
	if chunks[0].Sequence != dto.FirstSequence || chunks[len(chunks)-1].Sequence != dto.LastSequence {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "sequence range does not match chunks"})
		return
	}

	status, err := s.accept(dto, chunks)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(status, gin.H{"accepted": len(chunks), "lastSeq": dto.LastSequence})
}

// accept records the batch unless it leaves a gap in the build's sequence.
// A batch id seen before is acknowledged again without being stored twice,
// so retries after a lost response are harmless.
func (s *Server) accept(dto api.BatchDto, chunks []chunk.LogChunk) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.builds[dto.BuildID]
	if !ok {
		state = &buildState{batchIDs: make(map[string]struct{})}
		s.builds[dto.BuildID] = state
	}
	if _, seen := state.batchIDs[dto.BatchID]; seen {
		return http.StatusOK, nil
	}
	if dto.FirstSequence != state.lastSeq+1 {
		s.logger.Warn("sequence gap", "build", dto.BuildID, "expected", state.lastSeq+1, "got", dto.FirstSequence)
		return http.StatusConflict, fmt.Errorf("expected sequence %d, got %d", state.lastSeq+1, dto.FirstSequence)
	}

	state.lastSeq = dto.LastSequence
	state.batchIDs[dto.BatchID] = struct{}{}
	state.final = state.final || dto.Final
	s.received = append(s.received, Received{Batch: dto, Chunks: chunks, ReceivedAt: time.Now()})

	s.logger.Debug("batch accepted", "build", dto.BuildID, "first", dto.FirstSequence, "last", dto.LastSequence, "final", dto.Final)
	if s.opts.Output != nil {
		for _, ch := range chunks {
			fmt.Fprintf(s.opts.Output, "[%s %d %s] %s", shortID(dto.BuildID), ch.Sequence, ch.Stream, ch.Content)
			if !bytes.HasSuffix(ch.Content, []byte("\n")) {
				fmt.Fprintln(s.opts.Output)
			}
		}
	}
	return http.StatusOK, nil
}

func readBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		defer gz.Close()
		reader = io.LimitReader(gz, maxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
