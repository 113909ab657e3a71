package dump

import (
	"fmt"
	"math"
	"sort"
)

// Run is a contiguous range of physical pages stored contiguously in the file.
type Run struct {
	// BasePage is the first page frame number of the run.
	BasePage uint64

	// PageCount is the number of pages in the run.
	PageCount uint64

	// FileOffset is where BasePage's content starts in the file.
	FileOffset int64
}

// End returns the first page frame number after the run.
func (r Run) End() uint64 {
	return r.BasePage + r.PageCount
}

// RunList is an ordered, non-overlapping list of runs.
type RunList []Run

// Find returns the run containing the page frame number pfn.
func (l RunList) Find(pfn uint64) (Run, bool) {
	i := sort.Search(len(l), func(i int) bool {
		return l[i].End() > pfn
	})
	if i == len(l) || l[i].BasePage > pfn {
		return Run{}, false
	}
	return l[i], true
}

// FileOffset maps a physical address to a file offset.
func (l RunList) FileOffset(pa uint64) (int64, bool) {
	pfn := pa / PageSize
	run, ok := l.Find(pfn)
	if !ok {
		return 0, false
	}
	return run.FileOffset + int64((pfn-run.BasePage)*PageSize+pa%PageSize), true
}

// TotalPages returns the number of pages covered by all runs.
func (l RunList) TotalPages() uint64 {
	var total uint64
	for _, r := range l {
		total += r.PageCount
	}
	return total
}

// runLimit is the highest file offset a run may reach: the declared dump
// size (or the file size when none is declared) plus the tolerance.
func runLimit(declared uint64, fileSize int64, tolerancePages uint64) uint64 {
	limit := declared
	if limit == 0 {
		limit = uint64(fileSize)
	}
	slack := uint64(math.MaxInt64)
	if tolerancePages < slack/PageSize {
		slack = tolerancePages * PageSize
	}
	if limit > math.MaxInt64-slack {
		return math.MaxInt64
	}
	return limit + slack
}

func (h *Header) parseRuns(r *Reader, raw []byte, l headerLayout, o parseOptions) error {
	// Header-only and minidump files carry no physical memory.
	if h.Type == TypeMinidump || h.RawType == 3 {
		return nil
	}

	limit := runLimit(h.DeclaredSize, r.Size(), o.runTolerancePages)
	var (
		runs  RunList
		pages uint64
		err   error
	)
	if h.Bitmap {
		runs, pages, err = parseBitmapRuns(r, int64(l.size), limit, o.maxBitmapRuns)
	} else {
		runs, pages, err = parseFlatRuns(raw, l, limit)
	}
	if err != nil {
		return err
	}
	h.Runs = runs
	h.PhysicalPages = pages
	return nil
}

// parseFlatRuns decodes the PHYSICAL_MEMORY_DESCRIPTOR embedded in the
// header. Page contents follow the header in run order.
func parseFlatRuns(raw []byte, l headerLayout, limit uint64) (RunList, uint64, error) {
	d := NewDecoder(raw, "physical memory descriptor")
	base := l.physMem

	count := d.U32(base)
	if count == fillPattern32 {
		return nil, 0, nil
	}

	var (
		pages   uint64
		runsOff int
		runSize = 2 * l.ptrSize
		fill    = uint64(fillPattern32)
	)
	if l.ptrSize == 8 {
		pages = d.U64(base + 0x08)
		runsOff = base + 0x10
		fill = fillPattern64
	} else {
		pages = uint64(d.U32(base + 0x04))
		runsOff = base + 0x08
	}

	maxRuns := (physMemBufferSize - (runsOff - base)) / runSize
	if int64(count) > int64(maxRuns) {
		return nil, 0, NewError(KindCorruptHeader, "parse run list", int64(base),
			fmt.Errorf("%d runs declared but the descriptor holds at most %d", count, maxRuns))
	}

	runs := make(RunList, 0, count)
	fileOff := uint64(l.size)
	for i := range int(count) {
		off := runsOff + i*runSize
		basePage := d.Ptr(off, l.ptrSize)
		pageCount := d.Ptr(off+l.ptrSize, l.ptrSize)
		if basePage == fill || pageCount == 0 {
			break
		}
		if n := len(runs); n > 0 && basePage < runs[n-1].End() {
			return nil, 0, NewError(KindCorruptHeader, "parse run list", int64(off),
				fmt.Errorf("run %d at page %#x overlaps or precedes the previous run", i, basePage))
		}
		if basePage > math.MaxUint64-pageCount || fileOff > limit || pageCount > (limit-fileOff)/PageSize {
			return nil, 0, NewError(KindCorruptHeader, "parse run list", int64(off),
				fmt.Errorf("run %d of %d pages extends past the end of the dump", i, pageCount))
		}
		runs = append(runs, Run{BasePage: basePage, PageCount: pageCount, FileOffset: int64(fileOff)})
		fileOff += pageCount * PageSize
	}
	if err := d.Err(); err != nil {
		return nil, 0, err
	}
	return runs, pages, nil
}

// Bitmap header layout (DUMP_BITMAP_HEADER).
const (
	bitmapHeaderSize   = 0x38
	bitmapFirstPage    = 0x20
	bitmapTotalPresent = 0x28
	bitmapPages        = 0x30
)

// parseBitmapRuns decodes the page bitmap that follows the header in
// bitmap dumps. Each set bit marks a physical page whose content is stored
// at FirstPage + presentIndex*PageSize. The bitmap is read in chunks no
// larger than the reader's cap.
func parseBitmapRuns(r *Reader, off int64, limit uint64, maxRuns int) (RunList, uint64, error) {
	fixed, err := r.ReadBytes(off, bitmapHeaderSize)
	if err != nil {
		return nil, 0, err
	}
	d := NewDecoder(fixed, "bitmap header")
	sig := string(d.Bytes(0, 4))
	valid := string(d.Bytes(4, 4))
	if (sig != "SDMP" && sig != "FDMP") || valid != "DUMP" {
		return nil, 0, NewError(KindCorruptHeader, "parse bitmap header", off,
			fmt.Errorf("unexpected bitmap signature %q%q", sig, valid))
	}
	firstPage := d.U64(bitmapFirstPage)
	totalPresent := d.U64(bitmapTotalPresent)
	pages := d.U64(bitmapPages)

	bitmapStart := off + bitmapHeaderSize
	bitmapBytes := pages/8 + boolToUint64(pages%8 != 0)
	if bitmapBytes > uint64(r.Size()-bitmapStart) {
		return nil, 0, NewError(KindCorruptHeader, "parse bitmap header", off,
			fmt.Errorf("bitmap of %d pages extends past the end of the file", pages))
	}

	var (
		runs    RunList
		present uint64
	)
	chunk := uint64(r.MaxReadSize())
	for start := uint64(0); start < bitmapBytes; start += chunk {
		n := min(chunk, bitmapBytes-start)
		buf, err := r.ReadBytes(bitmapStart+int64(start), int(n))
		if err != nil {
			return nil, 0, err
		}
		for i, b := range buf {
			if b == 0 {
				continue
			}
			for bit := range uint64(8) {
				pfn := (start+uint64(i))*8 + bit
				if pfn >= pages {
					break
				}
				if b&(1<<bit) == 0 {
					continue
				}
				fileOff := firstPage + present*PageSize
				if fileOff < firstPage || limit < PageSize || fileOff > limit-PageSize {
					return nil, 0, NewError(KindCorruptHeader, "parse bitmap", bitmapStart+int64(start)+int64(i),
						fmt.Errorf("present page %d lies past the end of the dump", present))
				}
				present++
				if k := len(runs); k > 0 && runs[k-1].End() == pfn {
					runs[k-1].PageCount++
					continue
				}
				if len(runs) >= maxRuns {
					return nil, 0, NewError(KindCorruptHeader, "parse bitmap", NoOffset,
						fmt.Errorf("bitmap describes more than %d runs", maxRuns))
				}
				runs = append(runs, Run{BasePage: pfn, PageCount: 1, FileOffset: int64(fileOff)})
			}
		}
	}
	if present != totalPresent {
		return nil, 0, NewError(KindCorruptHeader, "parse bitmap", off,
			fmt.Errorf("bitmap marks %d pages present but the header declares %d", present, totalPresent))
	}
	return runs, pages, nil
}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
