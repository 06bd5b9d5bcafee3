package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/zombor/receipt-sheets/internal/scanning"
)

var (
	// ErrValidation marks user input problems caught before any remote call
	ErrValidation = errors.New("validation error")

	ErrMissingAPIKey = fmt.Errorf("%w: please enter your Gemini API key in the configuration", ErrValidation)
	ErrNoItems       = fmt.Errorf("%w: no files selected for processing", ErrValidation)
	ErrNoImages      = fmt.Errorf("%w: please upload image files (PNG, JPG)", ErrValidation)

	// ErrItemNotFound is returned for unknown item IDs
	ErrItemNotFound = errors.New("item not found")
)

// IDGenerator generates unique IDs for queued items
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

// Observer receives a snapshot after every state transition.
// It is called without the processor lock held and must not block for long.
type Observer func(Snapshot)

// Option configures a Processor
type Option func(*Processor)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver registers a callback for state transitions
func WithObserver(o Observer) Option {
	return func(p *Processor) {
		p.observer = o
	}
}

// WithIDGenerator overrides the item ID generator
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Processor) {
		if g != nil {
			p.idGenerator = g
		}
	}
}

// WithEncoder overrides the image encoder
func WithEncoder(e *scanning.Encoder) Option {
	return func(p *Processor) {
		if e != nil {
			p.encoder = e
		}
	}
}

// Processor runs queued receipt images through an extractor one at a time.
//
// Items are processed strictly in queue order. A failed item never stops the batch.
// Only one batch runs at a time; starting while running is a no-op.
type Processor struct {
	extractor   scanning.Extractor
	encoder     *scanning.Encoder
	logger      *slog.Logger
	observer    Observer
	idGenerator IDGenerator

	mu         sync.Mutex
	state      State
	generation uint64 // bumped whenever the queue is replaced or reset
	items      []*Item
	results    []scanning.ReceiptRecord
}

// NewProcessor creates a new Processor
func NewProcessor(extractor scanning.Extractor, opts ...Option) *Processor {
	p := &Processor{
		extractor:   extractor,
		encoder:     &scanning.Encoder{},
		logger:      slog.Default(),
		idGenerator: uuidGenerator{},
		state:       StateIdle,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Enqueue replaces the queue with the image files among files and clears previous results.
// It returns the number of accepted files.
func (p *Processor) Enqueue(files []scanning.File) (int, error) {
	items := make([]*Item, 0, len(files))
	for _, f := range files {
		if !scanning.IsImage(f) {
			p.logger.Info("Skipping non-image file", "filename", f.Name, "content_type", f.ContentType)
			continue
		}
		items = append(items, &Item{
			ID:     p.idGenerator.Generate(),
			File:   f,
			Status: StatusPending,
		})
	}
	if len(items) == 0 {
		return 0, ErrNoImages
	}

	p.mu.Lock()
	p.generation++
	p.items = items
	p.results = nil
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.notify(snap)
	return len(items), nil
}

// Reset discards the queue and the results. An extraction already in flight is not
// interrupted; its result is dropped and the running batch stops at the next item.
func (p *Processor) Reset() {
	p.mu.Lock()
	p.generation++
	p.items = nil
	p.results = nil
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.notify(snap)
}

// Start validates the request and processes the queue in the background.
// It returns false without error when a batch is already running.
func (p *Processor) Start(ctx context.Context, apiKey string) (bool, error) {
	gen, started, err := p.begin(apiKey)
	if err != nil || !started {
		return false, err
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Batch aborted by panic", "panic", r)
			}
		}()
		p.run(ctx, gen, apiKey)
	}()
	return true, nil
}

// Run processes the queue and returns when the batch is done.
// It returns false without error when a batch is already running.
func (p *Processor) Run(ctx context.Context, apiKey string) (bool, error) {
	gen, started, err := p.begin(apiKey)
	if err != nil || !started {
		return false, err
	}
	p.run(ctx, gen, apiKey)
	return true, nil
}

// begin moves the batch from Idle to Running and resets every item to Pending
func (p *Processor) begin(apiKey string) (uint64, bool, error) {
	p.mu.Lock()
	if p.state == StateRunning {
		p.mu.Unlock()
		return 0, false, nil
	}
	if apiKey == "" {
		p.mu.Unlock()
		return 0, false, ErrMissingAPIKey
	}
	if len(p.items) == 0 {
		p.mu.Unlock()
		return 0, false, ErrNoItems
	}

	p.state = StateRunning
	p.results = make([]scanning.ReceiptRecord, 0, len(p.items))
	for _, it := range p.items {
		it.Status = StatusPending
		it.Result = nil
		it.Error = ""
	}
	gen := p.generation
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.logger.Info("Starting batch", "items", len(snap.Items))
	p.notify(snap)
	return gen, true, nil
}

func (p *Processor) run(ctx context.Context, gen uint64, apiKey string) {
	defer p.finish()

	for i := 0; ; i++ {
		item, ok := p.markProcessing(gen, i)
		if !ok {
			return
		}
		record, err := p.processItem(ctx, item, apiKey)
		p.complete(gen, item, record, err)
	}
}

// markProcessing returns the i-th item of generation gen, marked as processing.
// It reports false when the queue is exhausted or was replaced.
func (p *Processor) markProcessing(gen uint64, i int) (*Item, bool) {
	p.mu.Lock()
	if gen != p.generation || i >= len(p.items) {
		p.mu.Unlock()
		return nil, false
	}
	item := p.items[i]
	item.Status = StatusProcessing
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.notify(snap)
	return item, true
}

func (p *Processor) processItem(ctx context.Context, item *Item, apiKey string) (record *scanning.ReceiptRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Extractor panicked", "filename", item.File.Name, "panic", r)
			record, err = nil, fmt.Errorf("extraction panicked: %v", r)
		}
	}()

	encoded, err := p.encode(item)
	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}

	record, err = p.extractor.Extract(ctx, encoded, apiKey)
	if err != nil {
		p.logger.Error("Failed to scan receipt",
			"filename", item.File.Name,
			"content_type", encoded.MIMEType,
			"file_size", len(item.File.Data),
			"error", err,
		)
		return nil, err
	}
	if record == nil {
		return nil, scanning.ErrEmptyResult
	}
	return record, nil
}

// encode returns the cached payload of item, encoding it on first use
func (p *Processor) encode(item *Item) (scanning.EncodedImage, error) {
	p.mu.Lock()
	cached := item.Encoded
	p.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	encoded, err := p.encoder.Encode(item.File)
	if err != nil {
		return scanning.EncodedImage{}, err
	}

	p.mu.Lock()
	if item.Encoded == nil {
		item.Encoded = &encoded
	}
	p.mu.Unlock()
	return encoded, nil
}

func (p *Processor) complete(gen uint64, item *Item, record *scanning.ReceiptRecord, err error) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		p.logger.Info("Dropping result for discarded queue", "filename", item.File.Name)
		return
	}
	if err != nil {
		item.Status = StatusFailed
		item.Error = err.Error()
	} else {
		item.Status = StatusCompleted
		item.Result = record
		p.results = append(p.results, *record)
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.notify(snap)
}

// finish returns the batch to Idle; it runs deferred so panics cannot leave it Running
func (p *Processor) finish() {
	p.mu.Lock()
	p.state = StateIdle
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.logger.Info("Batch finished", "results", len(snap.Results), "items", len(snap.Items))
	p.notify(snap)
}

func (p *Processor) notify(snap Snapshot) {
	if p.observer != nil {
		p.observer(snap)
	}
}

func (p *Processor) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:   p.state,
		Items:   make([]ItemView, 0, len(p.items)),
		Results: make([]scanning.ReceiptRecord, len(p.results)),
	}
	for _, it := range p.items {
		snap.Items = append(snap.Items, it.view())
	}
	copy(snap.Results, p.results)
	return snap
}

// Snapshot returns a copy of the current state
func (p *Processor) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// State returns whether a batch is running
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Results returns a copy of the records of completed items, in queue order
func (p *Processor) Results() []scanning.ReceiptRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	results := make([]scanning.ReceiptRecord, len(p.results))
	copy(results, p.results)
	return results
}

// Preview returns the encoded image of an item, encoding it if needed
func (p *Processor) Preview(id string) (scanning.EncodedImage, error) {
	p.mu.Lock()
	var found *Item
	for _, it := range p.items {
		if it.ID == id {
			found = it
			break
		}
	}
	p.mu.Unlock()

	if found == nil {
		return scanning.EncodedImage{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return p.encode(found)
}
