package extract

import "strings"

// ExtractedData is the structured result of one scan. Every field is
// independently optional and fields are never cross-checked.
type ExtractedData struct {
	NationalID    string    `json:"national_id,omitempty"`
	TrafficUnit   string    `json:"traffic_unit,omitempty"`
	OwnerName     string    `json:"owner_name,omitempty"`
	VehicleModel  string    `json:"vehicle_model,omitempty"`
	ChassisNumber string    `json:"chassis_number,omitempty"`
	MotorNumber   string    `json:"motor_number,omitempty"`
	Amounts       []float64 `json:"amounts,omitempty"`
	Dates         []string  `json:"dates,omitempty"`
	RawText       string    `json:"raw_text"`
}

// Extract normalizes recognized text and runs every field extractor on it.
//
// Noise filtering looks at the text before normalization, since stripping
// glitch symbols first would hide how noisy a line was. The kept lines,
// normalized, become RawText and the candidates for the name fallback.
// The extractors see all normalized lines: a spaced-out national ID is
// exactly the kind of line the stray-token pass would break.
func Extract(text string) ExtractedData {
	normalized := Normalize(text)

	lines := FilterNoise(text)
	for i := range lines {
		lines[i] = collapse(Normalize(lines[i]))
	}
	clean := lines[:0]
	for _, l := range lines {
		if l != "" {
			clean = append(clean, l)
		}
	}

	return ExtractedData{
		NationalID:    NationalID(normalized),
		TrafficUnit:   TrafficUnit(normalized),
		OwnerName:     OwnerName(normalized, clean),
		VehicleModel:  VehicleModel(normalized),
		ChassisNumber: ChassisNumber(normalized),
		MotorNumber:   MotorNumber(normalized),
		Amounts:       Amounts(normalized),
		Dates:         Dates(normalized),
		RawText:       strings.Join(clean, "\n"),
	}
}

// Empty reports whether no field was extracted.
func (d ExtractedData) Empty() bool {
	return d.NationalID == "" && d.TrafficUnit == "" && d.OwnerName == "" &&
		d.VehicleModel == "" && d.ChassisNumber == "" && d.MotorNumber == "" &&
		len(d.Amounts) == 0 && len(d.Dates) == 0
}
