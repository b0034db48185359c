package mems

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/mems/memutils"
	"github.com/vkngwrapper/mems/memutils/metadata"
)

// SegmentStats describes one segment of a block
type SegmentStats struct {
	VirtualStart Address
	Size         int
	Kind         metadata.SegmentKind
}

// BlockStats describes one block in the main chain and every segment inside it, in address order
type BlockStats struct {
	ID           int
	VirtualBase  Address
	PhysicalBase Address
	Size         int
	Segments     []SegmentStats
}

// Stats is a snapshot of the allocator's state
type Stats struct {
	// MappedPages is the number of pages obtained from the memory provider across all blocks
	MappedPages int
	// UsedBytes is the total size of all PROCESS segments
	UsedBytes int
	// FreeBytes is the total size of all HOLE segments
	FreeBytes int
	// Blocks lists every block in the main chain, in virtual address order
	Blocks []BlockStats
}

// Stats returns a snapshot of every block and segment the allocator holds. It does not modify
// the allocator.
func (a *Allocator) Stats() Stats {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.checkNotFinished("Stats")

	var stats Stats
	for _, block := range a.blockList.blocks {
		blockStats := BlockStats{
			ID:           block.id,
			VirtualBase:  block.virtualBase,
			PhysicalBase: block.PhysicalBase(),
			Size:         block.Size(),
		}

		_ = block.metadata.VisitAllRegions(func(segment metadata.Segment) error {
			blockStats.Segments = append(blockStats.Segments, SegmentStats{
				VirtualStart: block.virtualBase.Add(segment.Offset),
				Size:         segment.Size,
				Kind:         segment.Kind,
			})

			if segment.IsFree() {
				stats.FreeBytes += segment.Size
			} else {
				stats.UsedBytes += segment.Size
			}
			return nil
		})

		stats.MappedPages += block.Size() / a.pageSize
		stats.Blocks = append(stats.Blocks, blockStats)
	}

	return stats
}

// AddStatistics sums the allocator's block and allocation totals into the provided
// memutils.Statistics object
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.checkNotFinished("AddStatistics")

	a.blockList.AddStatistics(stats)
}

// AddDetailedStatistics sums the allocator's block, allocation and hole statistics into the
// provided memutils.DetailedStatistics object
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.checkNotFinished("AddDetailedStatistics")

	a.blockList.AddDetailedStatistics(stats)
}

// BuildStatsString produces a JSON document describing the allocator's totals. If detailed is
// true, it also contains every block and every segment in the main chain.
func (a *Allocator) BuildStatsString(detailed bool) string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.checkNotFinished("BuildStatsString")

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.blockList.AddDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	rootObj.Name("General").String("MeMS")
	configObj := rootObj.Name("Config").Object()
	configObj.Name("PageSize").Int(a.pageSize)
	configObj.Name("StartAddress").String(a.blockList.StartAddress().String())
	configObj.Name("Cursor").String(a.blockList.Cursor().String())
	configObj.Name("Flags").String(a.createFlags.String())
	configObj.End()

	totalObj := rootObj.Name("Total").Object()
	printDetailedStatistics(totalObj, &stats)
	totalObj.End()

	if detailed {
		blocksObj := rootObj.Name("Blocks").Object()
		a.blockList.PrintDetailedMap(blocksObj)
		blocksObj.End()
	}

	rootObj.End()

	return string(writer.Bytes())
}

func printDetailedStatistics(json jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("BlockBytes").Int(stats.BlockBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.AllocationCount > 1 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}

	if stats.UnusedRangeCount > 1 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

// PrintStats writes a human-readable report to w: the pages in use, the bytes in use and
// unused, and the main chain with each block's segments in address order.
func (a *Allocator) PrintStats(w io.Writer) error {
	stats := a.Stats()

	var builder strings.Builder
	builder.WriteString("MeMS System Statistics\n")
	fmt.Fprintf(&builder, "Pages used:    %d\n", stats.MappedPages)
	fmt.Fprintf(&builder, "Space used:    %s\n", humanize.IBytes(uint64(stats.UsedBytes)))
	fmt.Fprintf(&builder, "Space unused:  %s\n", humanize.IBytes(uint64(stats.FreeBytes)))
	fmt.Fprintf(&builder, "Main chain length: %d\n", len(stats.Blocks))

	subChainLengths := make([]string, 0, len(stats.Blocks))
	for _, block := range stats.Blocks {
		fmt.Fprintf(&builder, "MAIN[%s:%s]-> ", block.VirtualBase, block.VirtualBase.Add(block.Size-1))

		for _, segment := range block.Segments {
			kind := "P"
			if segment.Kind == metadata.SegmentHole {
				kind = "H"
			}

			fmt.Fprintf(&builder, "%s[%s:%s] <-> ", kind, segment.VirtualStart, segment.VirtualStart.Add(segment.Size-1))
		}

		builder.WriteString("NULL\n")
		subChainLengths = append(subChainLengths, fmt.Sprint(len(block.Segments)))
	}

	fmt.Fprintf(&builder, "Sub-chain length array: [%s]\n", strings.Join(subChainLengths, ", "))

	_, err := io.WriteString(w, builder.String())
	return err
}
