package domain

// VideoInfo is the metadata returned by the upstream video-info provider
// for a resolvable URI, reduced to the best playable format.
type VideoInfo struct {
	VideoID      string `json:"videoId"`
	VideoURL     string `json:"videoUrl"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	ImageURI     string `json:"imageUri"`
	Published    int64  `json:"published"`
	UploaderID   string `json:"uploaderId"`
	UploaderName string `json:"uploaderName"`
	Ext          string `json:"ext"`
	MimeType     string `json:"mimeType"`
}
