package model

// classes is the label order the head was trained with. Output index i of the
// network is bound to classes[i].
var classes = [...]string{
	"Tomato_Bacterial_spot",
	"Tomato_Early_blight",
	"Tomato_Late_blight",
	"Tomato_Leaf_Mold",
	"Tomato_Septoria_leaf_spot",
	"Tomato_Spider_mites_Two_spotted_spider_mite",
	"Tomato_Target_Spot",
	"Tomato_Tomato_YellowLeaf_Curl_Virus",
	"Tomato_Tomato_mosaic_virus",
	"Tomato_healthy",
}

const (
	// NumClasses is the width of the classifier output.
	NumClasses = len(classes)

	// ImageSize is the square input edge expected by the backbone.
	ImageSize = 224

	// DefaultTopK is the number of ranked entries returned when the caller does not ask.
	DefaultTopK = 5
)

// Classes returns a copy of the class catalog in output-index order.
func Classes() []string {
	out := make([]string, NumClasses)
	copy(out, classes[:])
	return out
}

// ClassName returns the label for output index i.
func ClassName(i int) string {
	return classes[i]
}

type TopKEntry struct {
	ClassIdx  int     `json:"class_idx"`
	ClassName string  `json:"class_name"`
	Prob      float64 `json:"prob"`
}

type PredictionResult struct {
	PredIdx   int                `json:"pred_idx"`
	PredClass string             `json:"pred_class"`
	IsHealthy bool               `json:"is_healthy"`
	TopK      []TopKEntry        `json:"topk"`
	Probs     map[string]float64 `json:"probs"`
}
