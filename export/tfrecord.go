// Package export serializes detections into training-data formats so that
// corrected pipeline output can be fed back into model fine-tuning.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"

	"github.com/openanesth/chart-digitizer/annotations"
)

// Sample is one annotated image destined for a TFRecord shard.
type Sample struct {
	// Path identifies the source image; it doubles as the source_id.
	Path string
	// Encoded holds the compressed image bytes as stored on disk.
	Encoded []byte
	// Format is the encoding name, e.g. "jpeg" or "png".
	Format string
	// Width and Height are the pixel dimensions of the encoded image.
	Width  int
	Height int

	Detections []annotations.Detection
}

// TFRecordWriter streams tensorflow.Example records in the standard object
// detection layout (image/object/bbox/*, image/object/class/*). String
// categories are assigned stable integer IDs in order of first appearance,
// starting at 1.
type TFRecordWriter struct {
	w        io.Writer
	labelMap map[string]int64
	nextID   int64
}

// NewTFRecordWriter wraps w. The caller owns closing the underlying stream.
func NewTFRecordWriter(w io.Writer) *TFRecordWriter {
	return &TFRecordWriter{
		w:        w,
		labelMap: make(map[string]int64),
		nextID:   1,
	}
}

// Write converts one sample to a tensorflow.Example and appends it to the
// record stream.
func (t *TFRecordWriter) Write(s Sample) (err error) {
	// example.New panics on feature values it cannot convert.
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to tensorflow example failed: %v", e)
		}
	}()

	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("sample %q has invalid dimensions %dx%d", s.Path, s.Width, s.Height)
	}

	f := make(map[string]interface{}, 16)
	f["image/height"] = s.Height
	f["image/width"] = s.Width
	f["image/filename"] = s.Path
	f["image/source_id"] = s.Path
	f["image/encoded"] = s.Encoded
	f["image/format"] = s.Format

	n := len(s.Detections)
	xmins := make([]float32, n)
	ymins := make([]float32, n)
	xmaxs := make([]float32, n)
	ymaxs := make([]float32, n)
	anchorXs := make([]float32, n)
	anchorYs := make([]float32, n)
	classes := make([]string, n)
	classIDs := make([]int64, n)
	for i, det := range s.Detections {
		box := det.Annotation.Bounds()
		xmins[i] = float32(box.Left) / float32(s.Width)
		ymins[i] = float32(box.Top) / float32(s.Height)
		xmaxs[i] = float32(box.Right) / float32(s.Width)
		ymaxs[i] = float32(box.Bottom) / float32(s.Height)
		anchor := det.Annotation.Anchor()
		anchorXs[i] = float32(anchor.X) / float32(s.Width)
		anchorYs[i] = float32(anchor.Y) / float32(s.Height)
		classes[i] = box.Category
		classIDs[i] = t.labelID(box.Category)
	}
	f["image/object/bbox/xmin"] = xmins
	f["image/object/bbox/ymin"] = ymins
	f["image/object/bbox/xmax"] = xmaxs
	f["image/object/bbox/ymax"] = ymaxs
	f["image/object/anchor/x"] = anchorXs
	f["image/object/anchor/y"] = anchorYs
	f["image/object/class/text"] = classes
	f["image/object/class/label"] = classIDs

	enc, err := proto.Marshal(example.New(f))
	if err != nil {
		return err
	}
	return tfrecord.Write(t.w, enc)
}

// LabelMap returns a copy of the category-to-ID assignments made so far.
func (t *TFRecordWriter) LabelMap() map[string]int64 {
	out := make(map[string]int64, len(t.labelMap))
	for k, v := range t.labelMap {
		out[k] = v
	}
	return out
}

func (t *TFRecordWriter) labelID(category string) int64 {
	if id, ok := t.labelMap[category]; ok {
		return id
	}
	id := t.nextID
	t.labelMap[category] = id
	t.nextID++
	return id
}

type labelMapItem struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
}

// WriteLabelMap writes the label map as a JSON list sorted by ID, so that
// repeated exports with the same categories produce identical files.
func WriteLabelMap(path string, labelMap map[string]int64) error {
	items := make([]labelMapItem, 0, len(labelMap))
	for name, id := range labelMap {
		items = append(items, labelMapItem{Name: name, ID: id})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create the label map file %q: %w", path, err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// WriteYOLO serializes the detections of one image as normalized YOLO lines,
// one detection per line. Keypoint annotations carry their extra coordinate
// pair; plain boxes serialize as five fields.
func WriteYOLO(w io.Writer, dets []annotations.Detection, imageWidth, imageHeight int, categoryToID map[string]int) error {
	for _, det := range dets {
		var line string
		var err error
		switch a := det.Annotation.(type) {
		case annotations.Keypoint:
			line, err = a.ToYOLO(imageWidth, imageHeight, categoryToID, 6)
		default:
			line, err = a.Bounds().ToYOLO(imageWidth, imageHeight, categoryToID, 6)
		}
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
