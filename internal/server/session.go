package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shaunagostinho/fieldtrack/internal/track"
)

var (
	errAlreadyRecording = errors.New("a session is already recording")
	errNotRecording     = errors.New("no session is recording")
)

// startSession creates a fresh session from the current config. Filter
// state is never carried over from a previous session.
func (s *Server) startSession(name, notes string) (track.Summary, error) {
	s.sessMu.Lock()
	if s.session != nil {
		s.sessMu.Unlock()
		return track.Summary{}, errAlreadyRecording
	}
	if name == "" {
		name = "Session " + time.Now().Format("2006-01-02 15:04")
	}
	sess, err := track.NewSession(s.cfg.SessionConfig(name, notes))
	if err != nil {
		s.sessMu.Unlock()
		return track.Summary{}, fmt.Errorf("start session: %w", err)
	}
	s.session = sess
	sum := sess.Summary()
	s.sessMu.Unlock()

	cfg := sess.Config()
	log.Printf("[session] %s started (%q, Q=%g R=%g gate=%.2fm)",
		sum.ID, sum.Name, cfg.ProcessNoise, cfg.BaseMeasurementNoise, cfg.MinDistanceMeters)
	s.broadcast(Frame{Session: &sum, Event: "started", Stamp: time.Now().UnixMilli()})
	return sum, nil
}

// stopSession freezes the active session and persists it together with
// any earlier session whose save failed. A session leaves the unsaved list
// only once the store has accepted it, so a failed stop can be retried.
func (s *Server) stopSession(ctx context.Context) (track.Summary, error) {
	s.sessMu.Lock()
	var stopped *track.Summary
	if s.session != nil {
		sum := s.session.Stop()
		stopped = &sum
		s.unsaved = append(s.unsaved, s.session)
		s.session = nil
	}
	pending := append([]*track.Session(nil), s.unsaved...)
	s.sessMu.Unlock()

	if len(pending) == 0 {
		return track.Summary{}, errNotRecording
	}
	if stopped != nil {
		log.Printf("[session] %s stopped: %d fixes, %d accepted, %d rejected, %.1f m",
			stopped.ID, stopped.FixesSeen, stopped.Accepted, stopped.Rejected, stopped.DistanceMeters)
		s.broadcast(Frame{Session: stopped, Event: "stopped", Stamp: time.Now().UnixMilli()})
	}

	latest := pending[len(pending)-1].Summary()
	for _, sess := range pending {
		sum := sess.Summary()
		if err := s.store.Save(ctx, sum, sess.Path()); err != nil {
			return latest, fmt.Errorf("save session %s: %w", sum.ID, err)
		}
		s.markSaved(sess)
		if stopped == nil {
			log.Printf("[session] %s saved on retry", sum.ID)
		}
	}
	return latest, nil
}

func (s *Server) markSaved(sess *track.Session) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	for i, u := range s.unsaved {
		if u == sess {
			s.unsaved = append(s.unsaved[:i], s.unsaved[i+1:]...)
			return
		}
	}
}

// currentSummary reports the active session, if any.
func (s *Server) currentSummary() (track.Summary, bool) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if s.session == nil {
		return track.Summary{}, false
	}
	return s.session.Summary(), true
}
