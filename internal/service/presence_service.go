package service

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/store"
)

// Waiting-room viewport. Avatars are squares of AvatarSize; positions are
// the top-left corner, kept inside [0, Field-AvatarSize].
const (
	FieldWidth  = 320.0
	FieldHeight = 480.0
	AvatarSize  = 48.0

	speechTTL = 4 * time.Second
)

var avatarColors = []string{
	"#e74c3c", "#3498db", "#2ecc71", "#f39c12",
	"#9b59b6", "#1abc9c", "#e67e22", "#34495e",
}

// PresenceService tracks waiting-room avatars per room. Positions and
// headings are assigned randomly once and persisted; the per-frame motion
// is simulated locally and broadcast to viewers, never written back.
type PresenceService struct {
	store store.Store
	log   zerolog.Logger
	step  float64
	tick  time.Duration

	mu    sync.Mutex
	rooms map[string]*roomSimulation
}

// NewPresenceService creates a PresenceService. step is how far an avatar
// moves per tick; tick is the simulation cadence.
func NewPresenceService(st store.Store, step float64, tick time.Duration, log zerolog.Logger) *PresenceService {
	return &PresenceService{
		store: st,
		log:   log.With().Str("component", "presence_service").Logger(),
		step:  step,
		tick:  tick,
		rooms: make(map[string]*roomSimulation),
	}
}

// roomSimulation is the live state of one waiting room.
type roomSimulation struct {
	mu        sync.Mutex
	entries   map[string]*model.PresenceEntry
	listeners map[chan []model.PresenceEntry]struct{}
	stop      chan struct{}
}

func (ps *PresenceService) room(roomID string) *roomSimulation {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	sim, ok := ps.rooms[roomID]
	if !ok {
		sim = &roomSimulation{
			entries:   make(map[string]*model.PresenceEntry),
			listeners: make(map[chan []model.PresenceEntry]struct{}),
			stop:      make(chan struct{}),
		}
		ps.rooms[roomID] = sim
		go ps.run(roomID, sim)
	}
	return sim
}

// Ensure registers a student in the room's waiting population. First
// observation assigns a uniformly random position and heading and persists
// that initial placement best-effort; racing clients may overwrite each
// other, which is fine for cosmetic data.
func (ps *PresenceService) Ensure(ctx context.Context, roomID, studentID, name string) model.PresenceEntry {
	sim := ps.room(roomID)

	sim.mu.Lock()
	if existing, ok := sim.entries[studentID]; ok {
		entry := *existing
		sim.mu.Unlock()
		return entry
	}

	angle := rand.Float64() * 2 * math.Pi
	entry := &model.PresenceEntry{
		StudentID: studentID,
		Name:      name,
		X:         rand.Float64() * (FieldWidth - AvatarSize),
		Y:         rand.Float64() * (FieldHeight - AvatarSize),
		DX:        math.Cos(angle),
		DY:        math.Sin(angle),
		Color:     avatarColors[rand.Intn(len(avatarColors))],
	}
	sim.entries[studentID] = entry
	snapshot := *entry
	sim.mu.Unlock()

	fields, err := store.Encode(snapshot)
	if err == nil {
		err = ps.store.Set(ctx, presencePath(roomID, studentID), fields, false)
	}
	if err != nil {
		ps.log.Warn().Err(err).Str("room_id", roomID).Str("student_id", studentID).Msg("Presence write failed")
	}
	return snapshot
}

// Say attaches transient speech to an avatar. It auto-clears after a few
// seconds via the simulation loop. The store write is best-effort.
func (ps *PresenceService) Say(ctx context.Context, roomID, studentID, text string) {
	sim := ps.room(roomID)

	sim.mu.Lock()
	entry, ok := sim.entries[studentID]
	if !ok {
		sim.mu.Unlock()
		return
	}
	entry.Speech = text
	entry.SpokeAt = time.Now()
	sim.mu.Unlock()

	err := ps.store.Set(ctx, presencePath(roomID, studentID), map[string]interface{}{"speech": text}, true)
	if err != nil {
		ps.log.Warn().Err(err).Str("room_id", roomID).Str("student_id", studentID).Msg("Speech write failed")
	}
}

// SetColor repaints an avatar. Colors outside the palette are ignored so
// clients cannot inject arbitrary CSS values.
func (ps *PresenceService) SetColor(ctx context.Context, roomID, studentID, color string) {
	valid := false
	for _, c := range avatarColors {
		if c == color {
			valid = true
			break
		}
	}
	if !valid {
		return
	}

	sim := ps.room(roomID)
	sim.mu.Lock()
	entry, ok := sim.entries[studentID]
	if !ok {
		sim.mu.Unlock()
		return
	}
	entry.Color = color
	sim.mu.Unlock()

	err := ps.store.Set(ctx, presencePath(roomID, studentID), map[string]interface{}{"color": color}, true)
	if err != nil {
		ps.log.Warn().Err(err).Str("room_id", roomID).Str("student_id", studentID).Msg("Color write failed")
	}
}

// Remove drops a student's avatar when they leave the waiting room.
func (ps *PresenceService) Remove(ctx context.Context, roomID, studentID string) {
	sim := ps.room(roomID)

	sim.mu.Lock()
	delete(sim.entries, studentID)
	sim.mu.Unlock()

	if err := ps.store.Delete(ctx, presencePath(roomID, studentID)); err != nil {
		ps.log.Warn().Err(err).Str("room_id", roomID).Str("student_id", studentID).Msg("Presence delete failed")
	}

	ps.reapIfIdle(roomID, sim)
}

// Watch returns a channel of simulation frames for viewers of one room.
// Slow consumers miss frames rather than stalling the loop.
func (ps *PresenceService) Watch(roomID string) (<-chan []model.PresenceEntry, func()) {
	sim := ps.room(roomID)
	ch := make(chan []model.PresenceEntry, 1)

	sim.mu.Lock()
	sim.listeners[ch] = struct{}{}
	sim.mu.Unlock()

	cancel := func() {
		sim.mu.Lock()
		delete(sim.listeners, ch)
		sim.mu.Unlock()
		ps.reapIfIdle(roomID, sim)
	}
	return ch, cancel
}

// Snapshot returns the current frame without subscribing.
func (ps *PresenceService) Snapshot(roomID string) []model.PresenceEntry {
	sim := ps.room(roomID)
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.frameLocked()
}

func (ps *PresenceService) run(roomID string, sim *roomSimulation) {
	ticker := time.NewTicker(ps.tick)
	defer ticker.Stop()
	for {
		select {
		case <-sim.stop:
			return
		case <-ticker.C:
			sim.mu.Lock()
			stepEntries(sim.entries, ps.step)
			frame := sim.frameLocked()
			for ch := range sim.listeners {
				select {
				case ch <- frame:
				default:
				}
			}
			sim.mu.Unlock()
		}
	}
}

func (sim *roomSimulation) frameLocked() []model.PresenceEntry {
	frame := make([]model.PresenceEntry, 0, len(sim.entries))
	for _, e := range sim.entries {
		frame = append(frame, *e)
	}
	return frame
}

// reapIfIdle stops the simulation goroutine once a room has neither
// avatars nor viewers.
func (ps *PresenceService) reapIfIdle(roomID string, sim *roomSimulation) {
	sim.mu.Lock()
	idle := len(sim.entries) == 0 && len(sim.listeners) == 0
	sim.mu.Unlock()
	if !idle {
		return
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.rooms[roomID] == sim {
		delete(ps.rooms, roomID)
		close(sim.stop)
	}
}

// stepEntries advances one simulation tick: move every avatar along its
// heading, reflect off the viewport edges, then resolve pairwise
// collisions.
func stepEntries(entries map[string]*model.PresenceEntry, step float64) {
	now := time.Now()
	ordered := make([]*model.PresenceEntry, 0, len(entries))
	for _, e := range entries {
		e.X += e.DX * step
		e.Y += e.DY * step
		reflect(e)
		if e.Speech != "" && now.Sub(e.SpokeAt) > speechTTL {
			e.Speech = ""
		}
		ordered = append(ordered, e)
	}

	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			resolveCollision(ordered[i], ordered[j], step)
		}
	}
}

// reflect bounces an avatar off the viewport edges: clamp the position
// into bounds and reverse the violated axis's heading component.
func reflect(e *model.PresenceEntry) {
	if e.X < 0 {
		e.X = 0
		e.DX = -e.DX
	} else if e.X > FieldWidth-AvatarSize {
		e.X = FieldWidth - AvatarSize
		e.DX = -e.DX
	}
	if e.Y < 0 {
		e.Y = 0
		e.DY = -e.DY
	} else if e.Y > FieldHeight-AvatarSize {
		e.Y = FieldHeight - AvatarSize
		e.DY = -e.DY
	}
}

// resolveCollision checks two avatars' AABBs and, if they overlap,
// reverses both headings on the axis of smallest penetration and pushes
// the pair apart so they do not stick together on the next tick.
func resolveCollision(a, b *model.PresenceEntry, step float64) {
	overlapX := AvatarSize - math.Abs(a.X-b.X)
	overlapY := AvatarSize - math.Abs(a.Y-b.Y)
	if overlapX <= 0 || overlapY <= 0 {
		return
	}

	if overlapX <= overlapY {
		a.DX = -a.DX
		b.DX = -b.DX
		shift := overlapX/2 + step
		if a.X <= b.X {
			a.X -= shift
			b.X += shift
		} else {
			a.X += shift
			b.X -= shift
		}
	} else {
		a.DY = -a.DY
		b.DY = -b.DY
		shift := overlapY/2 + step
		if a.Y <= b.Y {
			a.Y -= shift
			b.Y += shift
		} else {
			a.Y += shift
			b.Y -= shift
		}
	}
	clamp(a)
	clamp(b)
}

func clamp(e *model.PresenceEntry) {
	e.X = math.Max(0, math.Min(e.X, FieldWidth-AvatarSize))
	e.Y = math.Max(0, math.Min(e.Y, FieldHeight-AvatarSize))
}
