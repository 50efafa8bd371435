package fakeserver

import (
	"encoding/json"
	"fmt"

	"github.com/spherical/takeoff/internal/domain"
)

// Models is the model catalogue served by GET /models.
var Models = []domain.ModelInfo{
	{Name: string(domain.ModelElectrical), Description: "Electrical symbols and devices", Classes: []string{"receptacle", "switch", "light_fixture", "panel"}},
	{Name: string(domain.ModelMechanical), Description: "HVAC equipment and ductwork", Classes: []string{"diffuser", "return_grille", "vav_box"}},
	{Name: string(domain.ModelFireAlarm), Description: "Fire alarm devices", Classes: []string{"smoke_detector", "pull_station", "horn_strobe"}},
	{Name: string(domain.ModelFireSprinkler), Description: "Sprinkler heads and piping", Classes: []string{"pendent_head", "upright_head", "riser"}},
	{Name: string(domain.ModelPlumbing), Description: "Plumbing fixtures", Classes: []string{"water_closet", "lavatory", "floor_drain"}},
}

func validModel(m domain.ModelType) bool {
	for _, info := range Models {
		if info.Name == string(m) {
			return true
		}
	}
	return false
}

// Frame renders one event frame with a JSON payload.
func Frame(event string, payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("fakeserver: encode %s payload: %v", event, err))
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

// Progress renders a progress frame.
func Progress(percent int, status, message string) string {
	return Frame("progress", domain.ProgressEvent{Percent: percent, Status: status, Message: message})
}

// ErrorFrame renders an error frame.
func ErrorFrame(message string) string {
	return Frame("error", map[string]string{"error": message})
}

// DefaultResult is the result returned for any valid request.
func DefaultResult(req domain.ProcessRequest) domain.ProcessingResult {
	counts := map[string]int{}
	var detections []domain.Detection
	for i, class := range classesFor(req.ModelType) {
		n := i + 2
		counts[class] = n
		if req.IncludeRawDetections {
			for j := 0; j < n; j++ {
				x := float64(100*i + 10*j)
				detections = append(detections, domain.Detection{
					ClassName:  class,
					Confidence: 0.9,
					BBox:       []float64{x, x, x + 24, x + 24},
				})
			}
		}
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	return domain.ProcessingResult{
		FileID:                req.FileID,
		PageNumber:            req.PageNumber,
		TotalTilesProcessed:   4,
		ProcessingTimeSeconds: 1.5,
		Detections: domain.DetectionSummary{
			TotalDetections:   total,
			DetectionsByClass: counts,
			ConfidenceStats:   domain.ConfidenceStats{Mean: 0.9, Min: 0.9, Max: 0.9},
			AllDetections:     detections,
		},
		Analysis: domain.Analysis{
			FormattedOutput: fmt.Sprintf("Page %d: %d %s items detected.", req.PageNumber, total, req.ModelType),
		},
		Status: "completed",
	}
}

func classesFor(m domain.ModelType) []string {
	for _, info := range Models {
		if info.Name == string(m) {
			return info.Classes
		}
	}
	return nil
}

// DefaultScript reports tiling and detection progress, then the result.
func DefaultScript(req domain.ProcessRequest) []string {
	return []string{
		Progress(5, "tiling", "Splitting page into tiles"),
		Progress(40, "detecting", "Running detection"),
		Progress(80, "analyzing", "Summarizing detections"),
		Frame("result", DefaultResult(req)),
		Frame("done", map[string]string{}),
	}
}
