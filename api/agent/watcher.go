package agent

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/isoserve/isoserve/api/models"
	"github.com/sirupsen/logrus"
)

// debounce window for bursts of filesystem events, editors tend to fire
// several per save
const watchDebounce = 500 * time.Millisecond

// watchService recycles the pool's reusable workers whenever the service
// directory changes on disk, so long-lived workers pick up new code without
// a process restart. The returned stop function is idempotent enough for a
// single caller and blocks until the watch goroutine exits.
func watchService(dir string, p *pool) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var pending <-chan time.Time
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				logrus.WithFields(logrus.Fields{"path": ev.Name, "op": ev.Op.String()}).
					Debug("service file changed")
				pending = time.After(watchDebounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Error("service watcher error")
			case <-pending:
				pending = nil
				p.recycle(models.ReasonServiceChanged)
			}
		}
	}()

	return func() {
		watcher.Close()
		<-done
	}, nil
}
