package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- chain ---

type fakeRaffle struct {
	current      int64
	configs      map[int64]domain.SeasonConfig
	participants map[int64][]string
	err          error
}

func (f *fakeRaffle) CurrentSeasonID(context.Context) (int64, error) { return f.current, f.err }

func (f *fakeRaffle) SeasonConfig(_ context.Context, id int64) (domain.SeasonConfig, error) {
	if f.err != nil {
		return domain.SeasonConfig{}, f.err
	}
	cfg, ok := f.configs[id]
	if !ok {
		return domain.SeasonConfig{}, errors.New("no such season")
	}
	return cfg, nil
}

func (f *fakeRaffle) Participants(_ context.Context, id int64) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.participants[id]...), nil
}

type fakeCurves struct {
	tickets map[string]int64
	total   int64
	max     int64
}

func (f *fakeCurves) PlayerTickets(_ context.Context, _ string, player string) (int64, error) {
	return f.tickets[strings.ToLower(player)], nil
}
func (f *fakeCurves) TotalSupply(context.Context, string) (int64, error) { return f.total, nil }
func (f *fakeCurves) MaxSupply(context.Context, string) (int64, error)   { return f.max, nil }

// scripted returns errs[i] on the i-th call and nil once the script runs out.
type scripted struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scripted) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= len(s.errs) {
		return s.errs[s.calls-1]
	}
	return nil
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeMarketRelay struct{ scripted }

func (f *fakeMarketRelay) CreateMarket(context.Context, string, int64, string, int64, int64, int64) (string, error) {
	if err := f.next(); err != nil {
		return "", err
	}
	return "0xcreate", nil
}

type fakeOracleRelay struct {
	scripted
	mu     sync.Mutex
	pushed map[string]int
}

func (f *fakeOracleRelay) write(market string, bps int) (string, error) {
	if err := f.next(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushed == nil {
		f.pushed = make(map[string]int)
	}
	f.pushed[market] = bps
	return "0xoracle", nil
}

func (f *fakeOracleRelay) UpdateRaffleProbability(_ context.Context, _ string, market string, bps int) (string, error) {
	return f.write(market, bps)
}

func (f *fakeOracleRelay) UpdateMarketSentiment(_ context.Context, _ string, market string, bps int) (string, error) {
	return f.write(market, bps)
}

type fakeReceipts struct{ scripted }

func (f *fakeReceipts) WaitForReceipt(context.Context, string) error { return f.next() }

type fixedClock struct{ t time.Time }

func (c fixedClock) BlockTime(context.Context, uint64) (time.Time, error) { return c.t, nil }

// --- persistence ---

type memSeasons struct {
	mu      sync.Mutex
	rows    map[int64]domain.Season
	upserts int
}

func newMemSeasons() *memSeasons { return &memSeasons{rows: make(map[int64]domain.Season)} }

func (m *memSeasons) Get(_ context.Context, id int64) (domain.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return domain.Season{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memSeasons) Upsert(_ context.Context, s domain.Season) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = s
	m.upserts++
	return nil
}

func (m *memSeasons) SetActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.IsActive = active
	m.rows[id] = s
	return nil
}

func (m *memSeasons) ListActive(context.Context) ([]domain.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Season
	for _, s := range m.rows {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

type memPlayers struct {
	mu      sync.Mutex
	ids     map[string]int64
	raceFor string
}

func newMemPlayers() *memPlayers { return &memPlayers{ids: make(map[string]int64)} }

func (m *memPlayers) GetOrCreateID(_ context.Context, address string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(address)
	if id, ok := m.ids[key]; ok {
		return id, nil
	}
	id := int64(len(m.ids) + 1)
	m.ids[key] = id
	if key == m.raceFor {
		m.raceFor = ""
		return 0, domain.ErrAlreadyExists
	}
	return id, nil
}

type memMarkets struct {
	mu   sync.Mutex
	rows []domain.Market
}

func (m *memMarkets) HasMarket(_ context.Context, seasonID int64, player string, t domain.MarketType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(seasonID, player, t) >= 0, nil
}

func (m *memMarkets) find(seasonID int64, player string, t domain.MarketType) int {
	for i, r := range m.rows {
		if r.SeasonID == seasonID && domain.SameAddress(r.PlayerAddress, player) && r.Type.Equal(t) {
			return i
		}
	}
	return -1
}

func (m *memMarkets) Create(_ context.Context, mk domain.Market) (domain.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.find(mk.SeasonID, mk.PlayerAddress, mk.Type) >= 0 {
		return domain.Market{}, domain.ErrAlreadyExists
	}
	mk.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, mk)
	return mk, nil
}

func (m *memMarkets) UpdateContractAddress(_ context.Context, id int64, address string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			a := address
			m.rows[i].ContractAddress = &a
			m.rows[i].LastSyncedBlock = block
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memMarkets) UpdateProbabilities(_ context.Context, seasonID int64, updates []domain.ProbabilityUpdate, block uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range updates {
		for i := range m.rows {
			r := &m.rows[i]
			if r.SeasonID == seasonID && r.IsActive && !r.IsSettled && domain.SameAddress(r.PlayerAddress, u.PlayerAddress) {
				r.CurrentProbabilityBps = u.Bps
				r.LastSyncedBlock = block
				n++
			}
		}
	}
	return n, nil
}

func (m *memMarkets) ListBySeason(_ context.Context, seasonID int64) ([]domain.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Market
	for _, r := range m.rows {
		if r.SeasonID == seasonID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memMarkets) ActiveContractAddresses(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.rows {
		if r.IsActive && r.Materialized() {
			out = append(out, *r.ContractAddress)
		}
	}
	return out, nil
}

func (m *memMarkets) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memMarkets) add(mk domain.Market) domain.Market {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, mk)
	return mk
}

type memTxs struct {
	mu   sync.Mutex
	rows map[string]domain.RaffleTransaction
}

func newMemTxs() *memTxs { return &memTxs{rows: make(map[string]domain.RaffleTransaction)} }

func (m *memTxs) Record(_ context.Context, tx domain.RaffleTransaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[tx.TxHash]; ok {
		return false, nil
	}
	m.rows[tx.TxHash] = tx
	return true, nil
}

type memFailures struct {
	mu   sync.Mutex
	rows []domain.FailedMarketAttempt
}

func (m *memFailures) Log(_ context.Context, a domain.FailedMarketAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, a)
	return nil
}

type memOdds struct {
	mu     sync.Mutex
	points []domain.OddsPoint
}

func (m *memOdds) Append(_ context.Context, p domain.OddsPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, p)
	sort.SliceStable(m.points, func(i, j int) bool { return m.points[i].Timestamp.Before(m.points[j].Timestamp) })
	return nil
}

func (m *memOdds) ListSince(_ context.Context, seasonID, marketID int64, since time.Time) ([]domain.OddsPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OddsPoint
	for _, p := range m.points {
		if p.SeasonID == seasonID && p.MarketID == marketID && !p.Timestamp.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memOdds) LatestBefore(_ context.Context, seasonID, marketID int64, t time.Time) (domain.OddsPoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  domain.OddsPoint
		found bool
	)
	for _, p := range m.points {
		if p.SeasonID == seasonID && p.MarketID == marketID && p.Timestamp.Before(t) {
			best, found = p, true
		}
	}
	return best, found, nil
}

func (m *memOdds) ListBefore(_ context.Context, before time.Time) ([]domain.OddsPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OddsPoint
	for _, p := range m.points {
		if p.Timestamp.Before(before) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memOdds) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.points[:0]
	var n int64
	for _, p := range m.points {
		if p.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, p)
	}
	m.points = kept
	return n, nil
}

func (m *memOdds) DeleteMarket(_ context.Context, seasonID, marketID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.points[:0]
	var n int64
	for _, p := range m.points {
		if p.SeasonID == seasonID && p.MarketID == marketID {
			n++
			continue
		}
		kept = append(kept, p)
	}
	m.points = kept
	return n, nil
}

func (m *memOdds) all() []domain.OddsPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OddsPoint(nil), m.points...)
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// --- cache / blob / sinks ---

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{published: make(map[string][][]byte), streams: make(map[string][][]byte)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memLocks struct {
	held bool
}

func (m *memLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if m.held {
		return nil, domain.ErrLockHeld
	}
	m.held = true
	return func() { m.held = false }, nil
}

type fakeArchiver struct {
	store  *memOdds
	before time.Time
	err    error
}

func (f *fakeArchiver) ArchiveOdds(ctx context.Context, before time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.before = before
	pts, _ := f.store.ListBefore(ctx, before)
	return int64(len(pts)), nil
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.MarketLifecycle
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, ev domain.MarketLifecycle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingBroadcaster) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Notify(_ context.Context, event, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}
