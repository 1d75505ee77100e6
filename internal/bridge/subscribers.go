package bridge

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cccc-dev/cccc/internal/fsutil"
)

// Subscriber is one chat (optionally one thread) receiving ledger traffic.
type Subscriber struct {
	ChatID       string `json:"chat_id"`
	ThreadID     int64  `json:"thread_id,omitempty"`
	Subscribed   bool   `json:"subscribed"`
	Verbose      bool   `json:"verbose"`
	ChatTitle    string `json:"chat_title,omitempty"`
	SubscribedAt string `json:"subscribed_at,omitempty"`
}

// subscriberKey is chat_id, or chat_id:thread_id when threaded.
func subscriberKey(chatID string, threadID int64) string {
	if threadID > 0 {
		return fmt.Sprintf("%s:%d", chatID, threadID)
	}
	return chatID
}

// Subscribers persists the subscription map at state/im_subscribers.json.
type Subscribers struct {
	path string
	mu   sync.Mutex
}

func NewSubscribers(path string) *Subscribers {
	return &Subscribers{path: path}
}

func (s *Subscribers) load() (map[string]*Subscriber, error) {
	subs := make(map[string]*Subscriber)
	err := fsutil.ReadJSON(s.path, &subs)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return subs, nil
}

func (s *Subscribers) save(subs map[string]*Subscriber) error {
	return fsutil.AtomicWriteJSON(s.path, subs)
}

// Subscribe turns the chat on. Re-subscribing keeps the verbose flag.
func (s *Subscribers) Subscribe(chatID string, threadID int64, title string) (*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, err := s.load()
	if err != nil {
		return nil, err
	}
	key := subscriberKey(chatID, threadID)
	sub, ok := subs[key]
	if !ok {
		sub = &Subscriber{ChatID: chatID, ThreadID: threadID}
		subs[key] = sub
	}
	sub.Subscribed = true
	if title != "" {
		sub.ChatTitle = title
	}
	if sub.SubscribedAt == "" {
		sub.SubscribedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return sub, s.save(subs)
}

// Unsubscribe turns the chat off but keeps its record.
func (s *Subscribers) Unsubscribe(chatID string, threadID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, err := s.load()
	if err != nil {
		return err
	}
	if sub, ok := subs[subscriberKey(chatID, threadID)]; ok {
		sub.Subscribed = false
		return s.save(subs)
	}
	return nil
}

// ToggleVerbose flips verbose mode; returns the new value.
func (s *Subscribers) ToggleVerbose(chatID string, threadID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, err := s.load()
	if err != nil {
		return false, err
	}
	key := subscriberKey(chatID, threadID)
	sub, ok := subs[key]
	if !ok {
		sub = &Subscriber{ChatID: chatID, ThreadID: threadID, Subscribed: true}
		subs[key] = sub
	}
	sub.Verbose = !sub.Verbose
	return sub.Verbose, s.save(subs)
}

// Get returns one subscriber record, or nil.
func (s *Subscribers) Get(chatID string, threadID int64) (*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, err := s.load()
	if err != nil {
		return nil, err
	}
	return subs[subscriberKey(chatID, threadID)], nil
}

// Active returns every currently subscribed chat.
func (s *Subscribers) Active() ([]*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []*Subscriber
	for _, sub := range subs {
		if sub.Subscribed {
			out = append(out, sub)
		}
	}
	return out, nil
}
