package database

// Image is one stored record. Data always holds an encoded image in ContentType.
type Image struct {
	ID              int64   `db:"id" json:"id"`
	ContentType     string  `db:"content_type" json:"contentType"`
	OriginalName    *string `db:"original_name" json:"originalName,omitempty"`
	Data            []byte  `db:"data" json:"data"`
	OriginalImageID *int64  `db:"original_image_id" json:"originalImageId,omitempty"`
}
