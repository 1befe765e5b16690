package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/openanesth/chart-digitizer/config"
	"github.com/openanesth/chart-digitizer/detect"
	"github.com/openanesth/chart-digitizer/export"
)

var (
	debugMode bool
)

func init() {
	debugMode = os.Getenv("DEBUG") == "true"
}

func logTimings(t *ProcessingTimings) {
	if debugMode {
		log.Printf("[DEBUG] RequestID: %s - Processing times:\n"+
			"\tImage Decode:  %v\n"+
			"\tRectification: %v\n"+
			"\tLandmarks:     %v\n"+
			"\tLegend:        %v\n"+
			"\tMarkers:       %v\n"+
			"\tDigits:        %v\n"+
			"\tCheckboxes:    %v\n"+
			"\tTotal:         %v",
			t.RequestID,
			t.ImageDecode,
			t.Rectification,
			t.Landmarks,
			t.Legend,
			t.Markers,
			t.Digits,
			t.Checkboxes,
			t.Total)
	}
}

type AppState struct {
	Registry *detect.Registry
	Pipeline *Pipeline

	exportMu  sync.Mutex
	exporter  *export.TFRecordWriter
	labelPath string
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func main() {
	// Add basic logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize ONNX Runtime
	libPath, err := locateRuntimeLibrary(cfg.RuntimeLibPath)
	if err != nil {
		log.Fatalf("Failed to locate ONNX Runtime: %v", err)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		log.Fatalf("Failed to initialize ONNX environment: %v", err)
	}
	defer ort.DestroyEnvironment()

	registry, err := detect.NewRegistry(cfg)
	if err != nil {
		log.Fatalf("Failed to load models: %v", err)
	}
	defer registry.Destroy()

	state := &AppState{
		Registry: registry,
		Pipeline: NewPipeline(cfg, registry),
	}

	if cfg.ExportPath != "" {
		f, err := os.OpenFile(cfg.ExportPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("Failed to open export file: %v", err)
		}
		defer f.Close()
		state.exporter = export.NewTFRecordWriter(f)
		state.labelPath = cfg.ExportPath + ".labels.json"
		log.Printf("Training-feedback export enabled: %s", cfg.ExportPath)
	}

	r := mux.NewRouter()
	r.HandleFunc("/digitize", handleDigitize(state)).Methods("POST")
	state.addMonitoringRoutes(r)

	srv := &http.Server{
		Handler:      r,
		Addr:         cfg.Addr,
		WriteTimeout: 120 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	log.Printf("Starting server on %s", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}

func handleDigitize(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		requestID := fmt.Sprintf("%d", time.Now().UnixNano())
		timings := &ProcessingTimings{RequestID: requestID}

		ctx := r.Context()
		contentType := r.Header.Get("Content-Type")

		var intraopBytes, preopBytes []byte
		var err error

		switch {
		case strings.HasPrefix(contentType, "application/json"):
			intraopBytes, preopBytes, err = handleJSONRequest(r)
		case strings.HasPrefix(contentType, "multipart/form-data"):
			intraopBytes, preopBytes, err = handleMultipartRequest(r)
		default:
			// A raw body is the intraoperative side.
			intraopBytes, err = io.ReadAll(r.Body)
		}

		if err != nil {
			sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}
		if len(intraopBytes) == 0 && len(preopBytes) == 0 {
			sendErrorResponse(w, "invalid_request", "no chart image supplied", http.StatusBadRequest)
			return
		}

		decodeStart := time.Now()
		intraopImg, err := decodeImage(intraopBytes)
		if err != nil {
			sendErrorResponse(w, "invalid_image", "Failed to decode intraoperative image", http.StatusBadRequest)
			return
		}
		preopImg, err := decodeImage(preopBytes)
		if err != nil {
			sendErrorResponse(w, "invalid_image", "Failed to decode preoperative/postoperative image", http.StatusBadRequest)
			return
		}
		timings.ImageDecode = time.Since(decodeStart)

		record, artifacts, err := state.Pipeline.Digitize(ctx, intraopImg, preopImg, timings)
		if err != nil {
			sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
			return
		}

		for side, arts := range artifacts {
			state.exportSample(requestID, side, arts)
		}

		timings.Total = time.Since(startTotal)
		logTimings(timings)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(record)
	}
}

// exportSample appends one successfully rectified side to the feedback
// TFRecord and refreshes the label map beside it.
func (s *AppState) exportSample(requestID, side string, arts *SideArtifacts) {
	if s.exporter == nil || arts == nil || arts.Rectified == nil {
		return
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, arts.Rectified, imaging.JPEG); err != nil {
		log.Printf("export encode failed for %s: %v", side, err)
		return
	}
	bounds := arts.Rectified.Bounds()

	s.exportMu.Lock()
	defer s.exportMu.Unlock()
	err := s.exporter.Write(export.Sample{
		Path:       fmt.Sprintf("%s_%s.jpg", requestID, side),
		Encoded:    buf.Bytes(),
		Format:     "jpeg",
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Detections: arts.Detections,
	})
	if err != nil {
		log.Printf("export write failed for %s: %v", side, err)
		return
	}
	if err := export.WriteLabelMap(s.labelPath, s.exporter.LabelMap()); err != nil {
		log.Printf("label map write failed: %v", err)
	}
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"models": s.Registry.Stats(),
	})
}

func handleJSONRequest(r *http.Request) (intraop, preop []byte, err error) {
	var req struct {
		Intraoperative string `json:"intraoperative"`
		PreopPostop    string `json:"preoperative_postoperative"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, nil, err
	}
	if req.Intraoperative != "" {
		if intraop, err = base64.StdEncoding.DecodeString(req.Intraoperative); err != nil {
			return nil, nil, err
		}
	}
	if req.PreopPostop != "" {
		if preop, err = base64.StdEncoding.DecodeString(req.PreopPostop); err != nil {
			return nil, nil, err
		}
	}
	return intraop, preop, nil
}

func handleMultipartRequest(r *http.Request) (intraop, preop []byte, err error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, nil, err
	}
	intraop, err = readFormFile(r, TemplateIntraop)
	if err != nil {
		return nil, nil, err
	}
	preop, err = readFormFile(r, TemplatePreopPostop)
	if err != nil {
		return nil, nil, err
	}
	return intraop, preop, nil
}

// readFormFile reads one optional file part; an absent part is nil, not an
// error.
func readFormFile(r *http.Request, name string) ([]byte, error) {
	file, _, err := r.FormFile(name)
	if err == http.ErrMissingFile {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// decodeImage decodes the bytes, passing nil through for an absent side.
func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}
