// SPDX-License-Identifier: MIT

package main

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/lanrat/extsort"

	"github.com/quadgrid/quadgrid-go/qtree"
)

// CellCount is the number of point observations that fell into one quadcell.
type CellCount struct {
	Qid   qtree.Qid
	Count uint64
}

func (c CellCount) ToBytes() []byte {
	buf := make([]byte, binary.MaxVarintLen64*2)
	pos := binary.PutUvarint(buf, uint64(c.Qid))
	pos += binary.PutUvarint(buf[pos:], c.Count)
	return buf[0:pos]
}

func CellCountFromBytes(b []byte) extsort.SortType {
	qid, pos := binary.Uvarint(b)
	count, _ := binary.Uvarint(b[pos:])
	return CellCount{Qid: qtree.Qid(qid), Count: count}
}

func CellCountLess(a, b extsort.SortType) bool {
	aa := a.(CellCount)
	bb := b.(CellCount)
	if aa.Qid != bb.Qid {
		return aa.Qid < bb.Qid
	}
	return aa.Count < bb.Count
}

// parseCellCount parses one "qid count" line of an aggregated counts file.
func parseCellCount(line string) (qtree.Qid, uint64, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected \"qid count\", got %q", line)
	}
	qid, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || qid < 0 {
		return 0, 0, fmt.Errorf("bad qid in %q", line)
	}
	count, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad count in %q", line)
	}
	return qtree.Qid(qid), count, nil
}
