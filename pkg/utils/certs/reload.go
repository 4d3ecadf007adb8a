package certs

import (
	"context"
	"crypto/tls"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mpapenbr/simcoach/log"
)

// Reloader serves the current key pair of a Source and reloads it when one
// of the source files changes.
type Reloader struct {
	src  Source
	l    *log.Logger
	mu   sync.RWMutex
	cert *tls.Certificate
}

// NewReloader loads the key pair and watches the source files until ctx is
// done.
func NewReloader(ctx context.Context, src Source) (*Reloader, error) {
	r := &Reloader{src: src, l: log.GetFromContext(ctx).Named("certs")}
	if err := r.load(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, f := range src.Files() {
		if err := watcher.Add(f); err != nil {
			watcher.Close()
			return nil, err
		}
	}
	go r.watch(ctx, watcher)
	return r, nil
}

// TLSConfig returns a server config picking up reloaded certificates.
func (r *Reloader) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return r.Certificate(), nil
		},
		MinVersion: tls.VersionTLS12,
	}
}

func (r *Reloader) Certificate() *tls.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert
}

func (r *Reloader) load() error {
	cert, err := r.src.Load()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cert = &cert
	return nil
}

func (r *Reloader) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			r.l.Debug("context done, stopping cert reload")
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Chmod) {

				continue
			}
			// keep serving the previous pair while files are half written
			if err := r.load(); err != nil {
				r.l.Warn("could not reload certificate",
					log.String("file", event.Name), log.ErrorField(err))
				continue
			}
			r.l.Info("certificate reloaded", log.String("file", event.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.l.Error("watcher error", log.ErrorField(err))
		}
	}
}
