package mediaclock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/grafov/m3u8"
	"go.uber.org/zap"
)

const hlsFetchTimeout = 10 * time.Second

type segment struct {
	uri        string
	startMs    int64
	durationMs int64
}

// HLSPlayer is a Player for HLS recordings. It fetches the media playlist, keeps a
// wall-clock driven playhead while playing and prefetches the segment under the playhead.
// Segment payloads are not decoded.
type HLSPlayer struct {
	http   *resty.Client
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	segments   []segment
	durationMs int64
	offsetMs   int64
	playing    bool
	since      time.Time
	fetched    int

	errs   chan error
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHLSPlayer returns a player using client for playlist and segment requests. A nil client
// gets a default one.
func NewHLSPlayer(client *resty.Client, logger *zap.Logger) *HLSPlayer {
	if client == nil {
		client = resty.New().SetTimeout(hlsFetchTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HLSPlayer{
		http:    client,
		logger:  logger,
		now:     time.Now,
		fetched: -1,
		errs:    make(chan error, 4),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Load fetches the playlist at src, following the first variant of a master playlist, and
// the first media segment.
func (p *HLSPlayer) Load(ctx context.Context, src string) (int64, error) {
	pl, listType, base, err := p.fetchPlaylist(ctx, src)
	if err != nil {
		return 0, err
	}
	if listType == m3u8.MASTER {
		master := pl.(*m3u8.MasterPlaylist)
		if len(master.Variants) == 0 || master.Variants[0] == nil {
			return 0, NewError(KindUnsupportedFormat, errors.New("master playlist has no variants"))
		}
		variant, rerr := base.Parse(master.Variants[0].URI)
		if rerr != nil {
			return 0, NewError(KindUnsupportedFormat, fmt.Errorf("variant uri: %w", rerr))
		}
		pl, listType, base, err = p.fetchPlaylist(ctx, variant.String())
		if err != nil {
			return 0, err
		}
		if listType != m3u8.MEDIA {
			return 0, NewError(KindUnsupportedFormat, errors.New("variant is not a media playlist"))
		}
	}
	media, ok := pl.(*m3u8.MediaPlaylist)
	if !ok {
		return 0, NewError(KindUnsupportedFormat, errors.New("not a media playlist"))
	}
	if media.Key != nil && !supportedKeyMethod(media.Key.Method) {
		return 0, NewError(KindNoCompatiblePlayback, fmt.Errorf("key method %s", media.Key.Method))
	}

	var segments []segment
	var total int64
	for _, s := range media.Segments {
		if s == nil {
			continue
		}
		if s.Key != nil && !supportedKeyMethod(s.Key.Method) {
			return 0, NewError(KindNoCompatiblePlayback, fmt.Errorf("key method %s", s.Key.Method))
		}
		ref, rerr := base.Parse(s.URI)
		if rerr != nil {
			return 0, NewError(KindUnsupportedFormat, fmt.Errorf("segment uri: %w", rerr))
		}
		d := int64(math.Round(s.Duration * 1000))
		segments = append(segments, segment{uri: ref.String(), startMs: total, durationMs: d})
		total += d
	}
	if len(segments) == 0 {
		return 0, NewError(KindUnsupportedFormat, errors.New("playlist has no segments"))
	}

	p.mu.Lock()
	p.segments = segments
	p.durationMs = total
	p.offsetMs = 0
	p.playing = false
	p.fetched = -1
	p.mu.Unlock()

	if err := p.fetchSegment(ctx, 0); err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.fetched = 0
	p.mu.Unlock()
	p.logger.Debug("hls playlist loaded", zap.Int("segments", len(segments)), zap.Int64("duration_ms", total))
	return total, nil
}

func (p *HLSPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		p.playing = true
		p.since = p.now()
	}
	return nil
}

func (p *HLSPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offsetMs = p.positionLocked()
	p.playing = false
	return nil
}

func (p *HLSPlayer) Seek(positionMs int64) error {
	p.mu.Lock()
	if positionMs < 0 {
		positionMs = 0
	}
	if positionMs > p.durationMs {
		positionMs = p.durationMs
	}
	p.offsetMs = positionMs
	p.since = p.now()
	idx := p.segmentAt(positionMs)
	p.mu.Unlock()
	p.prefetch(idx)
	return nil
}

// Position returns the playhead and prefetches its segment when the playhead entered a new one.
func (p *HLSPlayer) Position() int64 {
	p.mu.Lock()
	pos := p.positionLocked()
	idx := p.segmentAt(pos)
	p.mu.Unlock()
	p.prefetch(idx)
	return pos
}

func (p *HLSPlayer) RecoverNetwork(ctx context.Context) error {
	p.mu.Lock()
	idx := p.segmentAt(p.positionLocked())
	p.mu.Unlock()
	if idx < 0 {
		return nil
	}
	if err := p.fetchSegment(ctx, idx); err != nil {
		return err
	}
	p.mu.Lock()
	p.fetched = idx
	p.mu.Unlock()
	return nil
}

// RecoverMedia re-anchors the playhead clock at the current position.
func (p *HLSPlayer) RecoverMedia(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offsetMs = p.positionLocked()
	p.since = p.now()
	return nil
}

func (p *HLSPlayer) Errors() <-chan error { return p.errs }

// Close cancels in-flight prefetches and waits for them.
func (p *HLSPlayer) Close() error {
	p.cancel()
	p.wg.Wait()
	return nil
}

func (p *HLSPlayer) positionLocked() int64 {
	pos := p.offsetMs
	if p.playing {
		pos += p.now().Sub(p.since).Milliseconds()
	}
	if pos > p.durationMs {
		pos = p.durationMs
	}
	return pos
}

// segmentAt returns the index of the segment containing pos; the last segment at the end.
func (p *HLSPlayer) segmentAt(pos int64) int {
	n := len(p.segments)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool {
		s := p.segments[i]
		return s.startMs+s.durationMs > pos
	})
	if i == n {
		i = n - 1
	}
	return i
}

func (p *HLSPlayer) prefetch(idx int) {
	p.mu.Lock()
	if idx < 0 || idx == p.fetched {
		p.mu.Unlock()
		return
	}
	p.fetched = idx
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.fetchSegment(p.ctx, idx); err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.mu.Lock()
			if p.fetched == idx {
				p.fetched = -1
			}
			p.mu.Unlock()
			select {
			case p.errs <- err:
			default:
			}
		}
	}()
}

func (p *HLSPlayer) fetchPlaylist(ctx context.Context, src string) (m3u8.Playlist, m3u8.ListType, *url.URL, error) {
	base, err := url.Parse(src)
	if err != nil {
		return nil, 0, nil, NewError(KindUnsupportedFormat, fmt.Errorf("playlist url: %w", err))
	}
	resp, err := p.http.R().SetContext(ctx).Get(base.String())
	if err != nil {
		return nil, 0, nil, NewError(KindNetwork, fmt.Errorf("fetch playlist: %w", err))
	}
	if resp.IsError() {
		return nil, 0, nil, NewError(KindNetwork, fmt.Errorf("fetch playlist: status %d", resp.StatusCode()))
	}
	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(resp.Body()), false)
	if err != nil {
		return nil, 0, nil, NewError(KindUnsupportedFormat, fmt.Errorf("decode playlist: %w", err))
	}
	return pl, listType, base, nil
}

func (p *HLSPlayer) fetchSegment(ctx context.Context, idx int) error {
	p.mu.Lock()
	if idx < 0 || idx >= len(p.segments) {
		p.mu.Unlock()
		return nil
	}
	uri := p.segments[idx].uri
	p.mu.Unlock()

	resp, err := p.http.R().SetContext(ctx).Get(uri)
	if err != nil {
		return NewError(KindNetwork, fmt.Errorf("fetch segment %d: %w", idx, err))
	}
	if resp.IsError() {
		return NewError(KindNetwork, fmt.Errorf("fetch segment %d: status %d", idx, resp.StatusCode()))
	}
	return nil
}

func supportedKeyMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "", "NONE", "AES-128":
		return true
	}
	return false
}
