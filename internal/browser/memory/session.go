// Package memory provides a scripted in-process Session for tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// PageState is one scroll snapshot of a page. Listings that load content
// lazily script several states; each scroll step advances to the next.
type PageState struct {
	// Texts maps selector to visible text.
	Texts map[string]string
	// Attrs maps selector to attribute name to value.
	Attrs map[string]map[string]string
	// Counts maps selector to querySelectorAll length.
	Counts map[string]int
	// Clicks maps selector to the URL the click navigates to. A selector
	// mapped to the empty string is clickable without navigation.
	Clicks map[string]string
}

// Page is a scripted page; States must be non-empty.
type Page struct {
	States []PageState
}

// Session implements crawler.Session against scripted pages.
type Session struct {
	mu sync.Mutex

	Pages   map[string]*Page
	NavErrs map[string]error

	current string
	scroll  int
	closed  bool

	// Navigations records every Navigate call in order.
	Navigations []string
}

func NewSession() *Session {
	return &Session{
		Pages:   map[string]*Page{},
		NavErrs: map[string]error{},
	}
}

// AddPage scripts a single-state page.
func (s *Session) AddPage(url string, state PageState) {
	s.Pages[url] = &Page{States: []PageState{state}}
}

// AddScrollingPage scripts a page whose content grows across scroll steps.
func (s *Session) AddScrollingPage(url string, states ...PageState) {
	s.Pages[url] = &Page{States: states}
}

func (s *Session) state() PageState {
	page, ok := s.Pages[s.current]
	if !ok || len(page.States) == 0 {
		return PageState{}
	}
	idx := s.scroll
	if idx >= len(page.States) {
		idx = len(page.States) - 1
	}
	return page.States[idx]
}

func (s *Session) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	s.Navigations = append(s.Navigations, url)
	if err := s.NavErrs[url]; err != nil {
		return err
	}
	s.current = url
	s.scroll = 0
	return nil
}

func (s *Session) CurrentURL(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *Session) ScrollUntil(ctx context.Context, pred func(ctx context.Context) (bool, error), maxIterations int) error {
	for i := 0; i < maxIterations; i++ {
		s.mu.Lock()
		s.scroll++
		s.mu.Unlock()
		done, err := pred(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

func (s *Session) Click(_ context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state()
	dest, ok := state.Clicks[selector]
	if !ok {
		return fmt.Errorf("nothing clickable at %q", selector)
	}
	if dest != "" {
		s.current = dest
		s.scroll = 0
	}
	return nil
}

func (s *Session) Exists(_ context.Context, selector string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state()
	if _, ok := state.Texts[selector]; ok {
		return true, nil
	}
	if _, ok := state.Attrs[selector]; ok {
		return true, nil
	}
	if _, ok := state.Clicks[selector]; ok {
		return true, nil
	}
	return state.Counts[selector] > 0, nil
}

func (s *Session) Text(_ context.Context, selector string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.state().Texts[selector]
	if !ok {
		return "", fmt.Errorf("no text at %q", selector)
	}
	return text, nil
}

func (s *Session) Attr(_ context.Context, selector, attr string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, ok := s.state().Attrs[selector]
	if !ok {
		return "", false, nil
	}
	val, ok := attrs[attr]
	return val, ok, nil
}

func (s *Session) Count(_ context.Context, selector string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state().Counts[selector], nil
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
