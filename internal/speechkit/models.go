package speechkit

// RecognitionRequest starts a long running recognition
type RecognitionRequest struct {
	Config RecognitionConfig `json:"config"`
	Audio  AudioSource       `json:"audio"`
}

type RecognitionConfig struct {
	Specification Specification `json:"specification"`
	FolderID      string        `json:"folderId,omitempty"`
}

// Specification defines audio and recognition parameters
type Specification struct {
	LanguageCode      string `json:"languageCode"`
	Model             string `json:"model"`
	AudioEncoding     string `json:"audioEncoding"`
	SampleRateHertz   int    `json:"sampleRateHertz"`
	AudioChannelCount int    `json:"audioChannelCount"`
	ProfanityFilter   bool   `json:"profanityFilter"`
	LiteratureText    bool   `json:"literatureText"`
}

type AudioSource struct {
	URI string `json:"uri"`
}

// Operation is a Yandex Cloud long running operation
type Operation struct {
	ID       string             `json:"id"`
	Done     bool               `json:"done"`
	Response *RecognitionResult `json:"response,omitempty"`
	Error    *OperationError    `json:"error,omitempty"`
}

type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type RecognitionResult struct {
	Chunks []Chunk `json:"chunks"`
}

type Chunk struct {
	Alternatives []Alternative `json:"alternatives"`
	ChannelTag   string        `json:"channelTag,omitempty"`
}

type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}
