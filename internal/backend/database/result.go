package database

import "time"

// Result describes one generated swap result and the uploads it was made from.
type Result struct {
	ID             string    `db:"id" json:"id"`
	SourceFilename string    `db:"source_filename" json:"sourceFilename"`
	TargetFilename string    `db:"target_filename" json:"targetFilename"`
	SourcePath     string    `db:"source_path" json:"sourcePath"`
	TargetPath     string    `db:"target_path" json:"targetPath"`
	ResultPath     string    `db:"result_path" json:"resultPath"`
	Size           int64     `db:"size" json:"size"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}
