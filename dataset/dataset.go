// Package dataset finds and loads the point clouds of a capture on disk and writes the
// clouds derived from it.
//
// A capture directory holds data packets named <prefix><scan>_<packet>.pcd where the scan
// number starts at character 5 ("scan_3_17.pcd"), combined scans named scan_<i>.pcd, or
// fragment directories fragment_<i>/fragment.pcd.
package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/logging"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/pointcloud"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/spatialmath"
)

// scanNumberOffset is the position of the scan number in a file name.
const scanNumberOffset = 5

// fragmentPrefix starts the name of every fragment directory.
const fragmentPrefix = "fragment_"

// ignoredName is skipped in every listing.
const ignoredName = ".DS_Store"

// ScanFileName returns the name of the combined scan i.
func ScanFileName(i int) string {
	return "scan_" + strconv.Itoa(i) + ".pcd"
}

// FragmentPath returns the path of fragment i below dir.
func FragmentPath(dir string, i int) string {
	return filepath.Join(dir, fragmentPrefix+strconv.Itoa(i), "fragment.pcd")
}

// leadingInt parses the decimal digits at the start of s.
func leadingInt(s string) (int, error) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, errors.Errorf("no number at the start of %q", s)
	}
	return strconv.Atoi(s[:end])
}

// scanNumber returns the number that starts at character 5 of name.
func scanNumber(name string) (int, error) {
	if len(name) <= scanNumberOffset {
		return 0, errors.Errorf("file name %q is too short to hold a scan number", name)
	}
	n, err := leadingInt(name[scanNumberOffset:])
	return n, errors.Wrapf(err, "file %q", name)
}

// packetNumber returns the number following the scan number of name, or -1 when there is
// none.
func packetNumber(name string) int {
	rest := name[scanNumberOffset:]
	idx := strings.Index(rest, "_")
	if idx < 0 {
		return -1
	}
	n, err := leadingInt(rest[idx+1:])
	if err != nil {
		return -1
	}
	return n
}

func isPCD(name string, _ int) bool {
	return filepath.Ext(name) == ".pcd"
}

func listNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %q", dir)
	}
	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), e.Name() != ignoredName
	})
	sort.Strings(names)
	return names, nil
}

// NumberOfScans returns one more than the largest scan number of the PCD files in dir.
func NumberOfScans(dir string) (int, error) {
	names, err := listNames(dir)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, name := range lo.Filter(names, isPCD) {
		n, err := scanNumber(name)
		if err != nil {
			return 0, err
		}
		highest = max(highest, n)
	}
	return highest + 1, nil
}

// NumberOfDirectories returns one more than the largest i of the fragment_<i> directories
// in dir. Every other entry, such as a combined model or a snapshot directory written by an
// earlier run, is skipped.
func NumberOfDirectories(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, errors.Wrapf(err, "listing %q", dir)
	}
	indices := lo.FilterMap(entries, func(e os.DirEntry, _ int) (int, bool) {
		return fragmentNumber(e)
	})
	return lo.Max(indices) + 1, nil
}

// fragmentNumber returns i for a directory named fragment_<i>.
func fragmentNumber(e os.DirEntry) (int, bool) {
	if !e.IsDir() || !strings.HasPrefix(e.Name(), fragmentPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), fragmentPrefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ReadCloud reads a PCD or LAS file.
func ReadCloud(path string, logger logging.Logger) (pointcloud.PointCloud, error) {
	return pointcloud.NewFromFile(path, logger)
}

// WriteCloud writes cloud to path as LAS when the extension is .las and as binary PCD
// otherwise. Missing parent directories are created.
func WriteCloud(path string, cloud pointcloud.PointCloud) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrapf(err, "creating directory for %q", path)
	}
	return pointcloud.WriteToFile(cloud, path)
}

// LoadFragments reads fragment_<i>/fragment.pcd for i in [0,n).
func LoadFragments(dir string, n int, logger logging.Logger) ([]pointcloud.PointCloud, error) {
	clouds := make([]pointcloud.PointCloud, 0, n)
	for i := 0; i < n; i++ {
		pc, err := ReadCloud(FragmentPath(dir, i), logger)
		if err != nil {
			return nil, errors.Wrapf(err, "fragment %d", i)
		}
		logger.Debugw("loaded fragment", "index", i, "cloud", pointcloud.String(pc))
		clouds = append(clouds, pc)
	}
	logger.Debugw("loaded fragments", "dir", dir, "count", len(clouds))
	return clouds, nil
}

// LoadScans reads scan_<i>.pcd for every scan counted by NumberOfScans.
func LoadScans(dir string, logger logging.Logger) ([]pointcloud.PointCloud, error) {
	n, err := NumberOfScans(dir)
	if err != nil {
		return nil, err
	}
	clouds := make([]pointcloud.PointCloud, 0, n)
	for i := 0; i < n; i++ {
		pc, err := ReadCloud(filepath.Join(dir, ScanFileName(i)), logger)
		if err != nil {
			return nil, errors.Wrapf(err, "scan %d", i)
		}
		clouds = append(clouds, pc)
	}
	return clouds, nil
}

// LoadPacketsInScan reads the packets of one scan ordered by packet number. Entries that are
// not PCD files are skipped.
func LoadPacketsInScan(dir string, scan int, logger logging.Logger) ([]pointcloud.PointCloud, error) {
	names, err := listNames(dir)
	if err != nil {
		return nil, err
	}
	var matching []string
	for _, name := range lo.Filter(names, isPCD) {
		n, err := scanNumber(name)
		if err != nil {
			return nil, err
		}
		if n == scan {
			matching = append(matching, name)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		return packetNumber(matching[i]) < packetNumber(matching[j])
	})

	packets := make([]pointcloud.PointCloud, 0, len(matching))
	for _, name := range matching {
		pc, err := ReadCloud(filepath.Join(dir, name), logger)
		if err != nil {
			return nil, err
		}
		packets = append(packets, pc)
	}
	return packets, nil
}

// LoadPackets reads the packets of every scan in dir, grouped by scan.
func LoadPackets(dir string, logger logging.Logger) ([][]pointcloud.PointCloud, error) {
	names, err := listNames(dir)
	if err != nil {
		return nil, err
	}
	if !lo.SomeBy(names, func(name string) bool { return isPCD(name, 0) }) {
		return nil, errors.Errorf("no data packets in %q", dir)
	}
	n, err := NumberOfScans(dir)
	if err != nil {
		return nil, err
	}
	scans := make([][]pointcloud.PointCloud, 0, n)
	total := 0
	for i := 0; i < n; i++ {
		packets, err := LoadPacketsInScan(dir, i, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "scan %d", i)
		}
		total += len(packets)
		scans = append(scans, packets)
	}
	logger.Infow("loaded data packets", "dir", dir, "scans", n, "packets", total)
	return scans, nil
}

// CombinePackets moves every packet by its transform and merges the packets of each scan.
// Transforms are indexed by the global packet order: scan 0 packets first. Points are
// labelled with the global index of their packet.
func CombinePackets(
	packets [][]pointcloud.PointCloud,
	transforms []spatialmath.RigidTransform,
) ([]pointcloud.PointCloud, error) {
	total := lo.SumBy(packets, func(scan []pointcloud.PointCloud) int { return len(scan) })
	if len(transforms) < total {
		return nil, errors.Errorf("%d data packets but only %d orientation readings", total, len(transforms))
	}
	scans := make([]pointcloud.PointCloud, 0, len(packets))
	global := 0
	for _, scan := range packets {
		combined := pointcloud.New()
		for _, packet := range scan {
			moved := pointcloud.ApplyTransform(packet, transforms[global])
			pointcloud.AppendCloud(combined, pointcloud.LabelAll(moved, global))
			global++
		}
		scans = append(scans, combined)
	}
	return scans, nil
}

// CombinePacketsToScans combines the packets and writes scan_<i>.pcd files to dir.
func CombinePacketsToScans(
	dir string,
	packets [][]pointcloud.PointCloud,
	transforms []spatialmath.RigidTransform,
	logger logging.Logger,
) ([]pointcloud.PointCloud, error) {
	return combineAndWrite(packets, transforms, logger, func(i int) string {
		return filepath.Join(dir, ScanFileName(i))
	})
}

// CombinePacketsToFragments combines the packets and writes fragment_<i>/fragment.pcd
// below dir.
func CombinePacketsToFragments(
	dir string,
	packets [][]pointcloud.PointCloud,
	transforms []spatialmath.RigidTransform,
	logger logging.Logger,
) ([]pointcloud.PointCloud, error) {
	return combineAndWrite(packets, transforms, logger, func(i int) string {
		return FragmentPath(dir, i)
	})
}

func combineAndWrite(
	packets [][]pointcloud.PointCloud,
	transforms []spatialmath.RigidTransform,
	logger logging.Logger,
	pathOf func(i int) string,
) ([]pointcloud.PointCloud, error) {
	clouds, err := CombinePackets(packets, transforms)
	if err != nil {
		return nil, err
	}
	for i, cloud := range clouds {
		path := pathOf(i)
		if err := WriteCloud(path, cloud); err != nil {
			return nil, err
		}
		logger.Debugw("wrote combined cloud", "path", path, "points", cloud.Size())
	}
	return clouds, nil
}

// FileStore writes clouds to the file system.
type FileStore struct{}

// WriteCloud implements registration.Store.
func (FileStore) WriteCloud(path string, cloud pointcloud.PointCloud) error {
	return WriteCloud(path, cloud)
}
