package store

import (
	"time"
)

// cleanerLoop checks the memory usage every CleanerInterval or when woken up by
// a blocked put
func (s *storeImpl) cleanerLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CleanerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
		s.clean()
	}
}

func (s *storeImpl) wakeCleaner() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// clean frees memory until usage is below 90% of the limit, least recently
// touched values first. Home values are spilled to the persistence backend,
// cached copies are dropped. Values with pending reads are skipped.
func (s *storeImpl) clean() {
	limit := s.config.MemoryLimit
	if limit <= 0 || s.memory.Load() <= limit {
		return
	}
	target := limit * 9 / 10

	queue := newEvictionQueue()
	s.table.Range(func(raw string, v *Value) bool {
		if v.resident() && v.readers() == 0 {
			queue.AddItem(raw, v.touched.Load())
		}
		return true
	})

	start, freed := s.memory.Load(), 0
	for s.memory.Load() > target {
		raw, ok := queue.PopOldest()
		if !ok {
			break
		}
		v, ok := s.table.Load(raw)
		if !ok {
			continue
		}
		if s.IsHome(s.keys.mustIntern(raw)) {
			n, err := v.spill(s.backend, raw)
			if err != nil {
				Logger.Errorf("Failed to spill %q to %s backend: %v", raw, s.backend.Name(), err)
				continue
			}
			if n > 0 {
				s.memory.Add(-int64(n))
				s.metrics.spills.Inc()
				freed += n
			}
		} else {
			s.dropLocal(raw, v)
			s.metrics.replicaDrops.Inc()
			freed += v.size
		}
	}

	Logger.Debugf("Cleaner freed %s (%s in use, limit %s)",
		byteCount(freed), byteCount(int(start)), byteCount(int(limit)))
}
