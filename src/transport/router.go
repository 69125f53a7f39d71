package transport

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// unreachableLatency replaces negative measurements found in King files.
const unreachableLatency = 100

// RouterNetwork is a square matrix of router-to-router latencies. Nodes are
// mapped onto routers by ID modulo the router count. A negative latency is a
// broken link.
type RouterNetwork struct {
	mu        sync.RWMutex
	latencies [][]int32
}

// NewRouterNetwork creates a size x size network with zero latencies.
func NewRouterNetwork(size int) *RouterNetwork {
	lat := make([][]int32, size)
	for i := range lat {
		lat[i] = make([]int32, size)
	}
	return &RouterNetwork{latencies: lat}
}

// Size returns the number of routers.
func (r *RouterNetwork) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.latencies)
}

// SetLatency sets the one-way latency from router src to router dst.
func (r *RouterNetwork) SetLatency(src, dst int, latency int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies[src][dst] = latency
}

// Latency returns the one-way latency from router src to router dst.
func (r *RouterNetwork) Latency(src, dst int) int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latencies[src][dst]
}

// Router maps a node ID onto a router.
func (r *RouterNetwork) Router(id int64) int {
	size := int64(r.Size())
	idx := id % size
	if idx < 0 {
		idx += size
	}
	return int(idx)
}

// ParseKing reads a King-style latency matrix: one row per line, whitespace
// separated values. Each value is multiplied by ratio and truncated; negative
// values become unreachableLatency. The diagonal is forced to zero.
func ParseKing(in io.Reader, ratio float64) (*RouterNetwork, error) {
	var rows [][]int32

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		row := make([]int32, len(fields))
		for col, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %d: %v", line, col+1, err)
			}
			if v < 0 {
				row[col] = unreachableLatency
			} else {
				row[col] = int32(v * ratio)
			}
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("empty latency matrix")
	}

	rn := NewRouterNetwork(len(rows))
	for i, row := range rows {
		if len(row) != len(rows) {
			return nil, fmt.Errorf("row %d has %d entries, expected %d", i+1, len(row), len(rows))
		}
		for j, v := range row {
			if i != j {
				rn.latencies[i][j] = v
			}
		}
	}

	return rn, nil
}

// LoadKing opens path and parses it with ParseKing.
func LoadKing(path string, ratio float64) (*RouterNetwork, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseKing(f, ratio)
}
