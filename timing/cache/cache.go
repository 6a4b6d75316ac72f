// Package cache provides L1 data cache modeling using Akita cache
// components for tag/LRU management.
package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// WritePolicy selects how stores interact with the backing store.
type WritePolicy int

const (
	// WriteBack defers backing-store updates until the dirty line is
	// evicted or flushed.
	WriteBack WritePolicy = iota
	// WriteThrough writes every store to the backing store immediately,
	// in addition to updating the cache line.
	WriteThrough
)

// Config holds cache configuration parameters. Associativity == 1
// yields a direct-mapped cache; larger values yield set-associative,
// both configurable per spec.md section 5's requirement that the
// cache's organization be a simulation parameter, not fixed.
type Config struct {
	Size          int // total capacity in bytes
	Associativity int // 1 = direct-mapped
	BlockSize     int // cache line size in bytes
	HitLatency    uint64
	MissLatency   uint64
	Policy        WritePolicy
}

// DefaultL1Config returns a direct-mapped, write-back default
// configuration sized for the workloads spec.md's scenarios exercise.
func DefaultL1Config() Config {
	return Config{
		Size:          16 * 1024,
		Associativity: 1,
		BlockSize:     64,
		HitLatency:    1,
		MissLatency:   5,
		Policy:        WriteBack,
	}
}

// AccessResult contains the result of a cache access.
type AccessResult struct {
	Hit         bool
	Latency     uint64
	Data        uint64
	Evicted     bool
	EvictedAddr uint64
}

// Statistics holds cache performance statistics (spec.md section 7's
// cache_hits/cache_misses/evictions counters).
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
}

// BackingStore is the next level in the memory hierarchy a miss fetches
// from and a dirty eviction writes back to.
type BackingStore interface {
	Read(addr uint64, size int) []byte
	Write(addr uint64, data []byte)
}

// Cache models a single-level L1 data cache. Store-to-load forwarding
// for in-flight stores is the store buffer's responsibility
// ([[timing/storebuffer]]), not the cache's; Cache only ever sees an
// address once the store buffer has drained it.
type Cache struct {
	config Config

	directory *akitacache.DirectoryImpl
	dataStore [][]byte

	stats Statistics

	backing BackingStore
}

// New creates a new cache with the given configuration and backing
// store.
func New(config Config, backing BackingStore) *Cache {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	totalBlocks := numSets * config.Associativity

	dataStore := make([][]byte, totalBlocks)
	for i := range dataStore {
		dataStore[i] = make([]byte, config.BlockSize)
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		dataStore: dataStore,
		backing:   backing,
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

func (c *Cache) blockAddr(addr uint64) uint64 {
	return (addr / uint64(c.config.BlockSize)) * uint64(c.config.BlockSize)
}

// Read performs a cache read operation, returning hit/miss status,
// latency, and the loaded data.
func (c *Cache) Read(addr uint64, size int) AccessResult {
	c.stats.Reads++

	blockAddr := c.blockAddr(addr)
	block := c.directory.Lookup(0, blockAddr)

	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)

		offset := addr % uint64(c.config.BlockSize)
		blockData := c.dataStore[c.blockIndex(block)]
		data := extractData(blockData, offset, size)

		return AccessResult{Hit: true, Latency: c.config.HitLatency, Data: data}
	}

	c.stats.Misses++
	return c.handleMiss(addr, size, false, 0)
}

// Write performs a cache write operation. Under WriteBack the line is
// marked dirty and the backing store is updated only on eviction;
// under WriteThrough the backing store is updated immediately as well.
func (c *Cache) Write(addr uint64, size int, data uint64) AccessResult {
	c.stats.Writes++

	blockAddr := c.blockAddr(addr)
	block := c.directory.Lookup(0, blockAddr)

	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)

		offset := addr % uint64(c.config.BlockSize)
		blockData := c.dataStore[c.blockIndex(block)]
		storeData(blockData, offset, size, data)

		if c.config.Policy == WriteThrough {
			if c.backing != nil {
				c.backing.Write(addr, blockData[offset:int(offset)+size])
			}
		} else {
			block.IsDirty = true
		}

		return AccessResult{Hit: true, Latency: c.config.HitLatency}
	}

	c.stats.Misses++
	return c.handleMiss(addr, size, true, data)
}

// handleMiss handles a cache miss by evicting a victim (writing it back
// if dirty), fetching the needed line from the backing store, and
// completing the original access against the freshly filled line.
func (c *Cache) handleMiss(addr uint64, size int, isWrite bool, writeData uint64) AccessResult {
	result := AccessResult{Hit: false, Latency: c.config.HitLatency + c.config.MissLatency}

	blockAddr := c.blockAddr(addr)
	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return result
	}

	victimData := c.dataStore[c.blockIndex(victim)]

	if victim.IsValid {
		c.stats.Evictions++
		result.Evicted = true
		result.EvictedAddr = victim.Tag

		if victim.IsDirty && c.backing != nil {
			c.stats.Writebacks++
			c.backing.Write(victim.Tag, victimData)
		}
	}

	if c.backing != nil {
		newData := c.backing.Read(blockAddr, c.config.BlockSize)
		copy(victimData, newData)
	} else {
		for i := range victimData {
			victimData[i] = 0
		}
	}

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = false

	offset := addr % uint64(c.config.BlockSize)
	if isWrite {
		storeData(victimData, offset, size, writeData)
		if c.config.Policy == WriteThrough {
			if c.backing != nil {
				c.backing.Write(addr, victimData[offset:int(offset)+size])
			}
		} else {
			victim.IsDirty = true
		}
	} else {
		result.Data = extractData(victimData, offset, size)
	}

	c.directory.Visit(victim)

	return result
}

// Invalidate marks a cache line as invalid without writing it back.
func (c *Cache) Invalidate(addr uint64) {
	blockAddr := c.blockAddr(addr)
	block := c.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
	}
}

// Flush writes back all dirty lines and invalidates them.
func (c *Cache) Flush() {
	sets := c.directory.GetSets()
	for _, set := range sets {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty && c.backing != nil {
				blockData := c.dataStore[c.blockIndex(block)]
				c.backing.Write(block.Tag, blockData)
				c.stats.Writebacks++
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
}

// Reset invalidates all cache lines without writeback and clears
// statistics.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
}

func extractData(data []byte, offset uint64, size int) uint64 {
	if data == nil || int(offset)+size > len(data) {
		return 0
	}
	var result uint64
	for i := 0; i < size; i++ {
		result |= uint64(data[int(offset)+i]) << (i * 8)
	}
	return result
}

func storeData(data []byte, offset uint64, size int, value uint64) {
	if data == nil || int(offset)+size > len(data) {
		return
	}
	for i := 0; i < size; i++ {
		data[int(offset)+i] = byte(value >> (i * 8))
	}
}
