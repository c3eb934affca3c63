package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/tobsdb/recstore/internal/index"
	"github.com/tobsdb/recstore/internal/storage"
	"github.com/tobsdb/recstore/internal/table"
	"github.com/tobsdb/recstore/internal/validate"
	"github.com/tobsdb/recstore/pkg"
	"golang.org/x/time/rate"
)

type Options struct {
	// requests per second allowed on one connection, 0 means unlimited
	RateLimit float64
	Burst     int
	// how long Listen waits for open requests on shutdown
	ShutdownTimeout time.Duration
}

// Server answers request actions against one storage engine. Table handles
// are created once per name and shared by every connection.
type Server struct {
	Locker sync.RWMutex

	engine  *storage.Engine
	log     *pkg.Logger
	options Options

	tables  pkg.Map[string, *table.Table]
	schemas pkg.Map[string, *validate.Schema]
	indexes pkg.Map[string, []string]

	last_change time.Time
}

func NewServer(engine *storage.Engine, options Options) *Server {
	if options.Burst < 1 {
		options.Burst = 1
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		engine:  engine,
		log:     engine.Logger(),
		options: options,
		tables:  pkg.Map[string, *table.Table]{},
		schemas: pkg.Map[string, *validate.Schema]{},
		indexes: pkg.Map[string, []string]{},
	}
}

func (s *Server) GetLocker() *sync.RWMutex { return &s.Locker }

func (s *Server) Engine() *storage.Engine { return s.engine }

func (s *Server) LastChange() time.Time {
	s.Locker.RLock()
	defer s.Locker.RUnlock()
	return s.last_change
}

func (s *Server) touch() {
	pkg.LockWrap(s, func() { s.last_change = time.Now() })
}

// SetSchema makes create and update requests on table validate against schema.
func (s *Server) SetSchema(table string, schema *validate.Schema) {
	pkg.LockWrap(s, func() { s.schemas.Set(table, schema) })
}

func (s *Server) schema(table string) *validate.Schema {
	var schema *validate.Schema
	pkg.RLockWrap(s, func() { schema = s.schemas.Get(table) })
	return schema
}

// AddIndexes keeps an index on each field of table, next to the fields
// added before. Indexes load from disk and are rebuilt from the table when
// the handle is created.
func (s *Server) AddIndexes(table string, fields ...string) {
	pkg.LockWrap(s, func() {
		current := s.indexes.Get(table)
		for _, f := range fields {
			if !slices.Contains(current, f) {
				current = append(current, f)
			}
		}
		s.indexes.Set(table, current)
		s.tables.Delete(table)
	})
}

// IndexedFields returns the fields kept indexed on table.
func (s *Server) IndexedFields(table string) []string {
	var fields []string
	pkg.RLockWrap(s, func() { fields = slices.Clone(s.indexes.Get(table)) })
	return fields
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.options.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, s.options.Burst)
	}
	return rate.NewLimiter(rate.Limit(s.options.RateLimit), s.options.Burst)
}

// Table returns the shared handle of name. Unless create is set, a table
// that does not exist yet is reported as storage.ErrTableNotFound.
func (s *Server) Table(name string, create bool) (*table.Table, error) {
	s.Locker.Lock()
	defer s.Locker.Unlock()

	if t := s.tables.Get(name); t != nil {
		if create || s.engine.TableExists(name) {
			return t, nil
		}
		s.tables.Delete(name)
	}
	if !create && !s.engine.TableExists(name) {
		return nil, &storage.StorageError{Op: "open", Table: name, Err: storage.ErrTableNotFound}
	}

	t, err := table.New(name, s.engine)
	if err != nil {
		return nil, err
	}
	if fields := s.indexes.Get(name); len(fields) > 0 {
		m := index.NewManager(name, s.engine)
		if err := m.LoadAllIndexes(); err != nil {
			s.log.Warn(fmt.Sprintf("Loading indexes of %s failed: %v", name, err))
		}
		for _, field := range fields {
			if !m.HasIndex(field) {
				if err := m.CreateIndex(field, nil); err != nil {
					return nil, err
				}
			}
		}
		if err := t.AttachIndexes(m); err != nil {
			return nil, err
		}
	}
	s.tables.Set(name, t)
	return t, nil
}

// forget drops the cached handle of name so the next request reloads it.
func (s *Server) forget(name string) {
	pkg.LockWrap(s, func() { s.tables.Delete(name) })
}

// Listen serves websocket connections on port until ctx is done.
func (s *Server) Listen(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", s.HandleWebsocket)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	errs := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	s.log.Info("recstore listening on port", port)
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	s.log.Debug("Shutting down...")
	shutdown, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdown)
}

// ListenTCP serves length-framed connections on port until ctx is done.
func (s *Server) ListenTCP(ctx context.Context, port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	s.log.Info("recstore accepting tcp connections on", l.Addr())
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		c, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.HandleConnection(NewConnCtx(newTCPTransport(c), s.newLimiter()))
		}()
	}
}
