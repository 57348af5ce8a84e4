package vfs

import (
	"zmfs/internal/connection"
)

// tracksPerCylinder is the 3390 geometry. Other device types differ; the
// value is kept because destination allocation is done in cylinders.
const tracksPerCylinder = 15

const defaultDirectoryBlocks = 10

// DefaultPartitionedAttributes is used for new directories.
func DefaultPartitionedAttributes() connection.AllocationAttributes {
	return connection.AllocationAttributes{
		Dsorg:     "PO",
		Alcunit:   "CYL",
		Primary:   1,
		Secondary: 1,
		Dirblk:    defaultDirectoryBlocks,
		Recfm:     "FB",
		Blksize:   27920,
		Lrecl:     80,
	}
}

// DefaultSequentialAttributes is used for new standalone leaves.
func DefaultSequentialAttributes() connection.AllocationAttributes {
	return connection.AllocationAttributes{
		Dsorg:     "PS",
		Alcunit:   "CYL",
		Primary:   1,
		Secondary: 1,
		Recfm:     "FB",
		Blksize:   27920,
		Lrecl:     80,
	}
}

func tracksToCylinders(tracks int) int {
	return (tracks + tracksPerCylinder - 1) / tracksPerCylinder
}

// AllocationFromDataset derives the allocation for a new data set from the
// attributes of an existing one. The source name and volume are not
// carried over. Track allocations are converted to cylinders.
func AllocationFromDataset(ds connection.Dataset, partitioned bool) connection.AllocationAttributes {
	attrs := connection.AllocationAttributes{
		Dsorg:   "PS",
		Alcunit: "CYL",
		Recfm:   ds.Recfm,
		Lrecl:   ds.Lrecl,
		Blksize: ds.Blksize,
		Dsntype: ds.Dsntype,
	}
	if partitioned {
		attrs.Dsorg = "PO"
		if attrs.Dsntype != "LIBRARY" {
			attrs.Dirblk = defaultDirectoryBlocks
		}
	} else {
		attrs.Dsntype = ""
	}

	switch ds.SpaceUnit {
	case "TRACKS", "TRK":
		attrs.Primary = tracksToCylinders(ds.Primary)
		attrs.Secondary = tracksToCylinders(ds.Secondary)
	case "CYLINDERS", "CYL":
		attrs.Primary = ds.Primary
		attrs.Secondary = ds.Secondary
	}
	if attrs.Primary < 1 {
		attrs.Primary = 1
	}
	if attrs.Secondary < 1 {
		attrs.Secondary = 1
	}

	if attrs.Recfm == "" {
		attrs.Recfm = "FB"
	}
	if attrs.Lrecl == 0 {
		attrs.Lrecl = 80
	}
	if attrs.Blksize == 0 {
		attrs.Blksize = 27920
	}
	return attrs
}
