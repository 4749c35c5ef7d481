package core

import "errors"

var (
	ErrEmptyQuestion = errors.New("问题不能为空")
	ErrEmptyPrompt   = errors.New("提示词不能为空")
	ErrAgent         = errors.New("生成回答时出错")
)

// ImageError carries the failure text produced by the image tool.
type ImageError struct {
	Message string
}

func (e *ImageError) Error() string {
	return e.Message
}
