package plugins

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aihub/corpus-go/internal/rag"
)

func stringList(items []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

// StringsField 读取字符串列表字段
func StringsField(s *structpb.Struct, key string) []string {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil
	}
	values := v.GetListValue().GetValues()
	out := make([]string, 0, len(values))
	for _, item := range values {
		out = append(out, item.GetStringValue())
	}
	return out
}

// EncodeEmbedRequest Embed请求
func EncodeEmbedRequest(texts []string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{"texts": stringList(texts)})
}

// EncodeVectors Embed响应
func EncodeVectors(vectors [][]float32) (*structpb.Struct, error) {
	list := make([]interface{}, len(vectors))
	for i, vec := range vectors {
		row := make([]interface{}, len(vec))
		for j, x := range vec {
			row[j] = float64(x)
		}
		list[i] = row
	}
	return structpb.NewStruct(map[string]interface{}{"vectors": list})
}

// DecodeVectors 解析Embed响应
func DecodeVectors(s *structpb.Struct) ([][]float32, error) {
	v, ok := s.GetFields()["vectors"]
	if !ok {
		return nil, fmt.Errorf("embed response has no vectors")
	}
	rows := v.GetListValue().GetValues()
	out := make([][]float32, len(rows))
	for i, row := range rows {
		values := row.GetListValue().GetValues()
		vec := make([]float32, len(values))
		for j, x := range values {
			vec[j] = float32(x.GetNumberValue())
		}
		out[i] = vec
	}
	return out, nil
}

// EncodeGenerateRequest Generate请求
func EncodeGenerateRequest(req rag.GenerateRequest) (*structpb.Struct, error) {
	memory := make([]interface{}, len(req.Memory))
	for i, turn := range req.Memory {
		memory[i] = map[string]interface{}{"question": turn.Question, "answer": turn.Answer}
	}
	return structpb.NewStruct(map[string]interface{}{
		"prompt":  req.Prompt,
		"context": stringList(req.Context),
		"memory":  memory,
	})
}

// DecodeGenerateRequest 解析Generate请求
func DecodeGenerateRequest(s *structpb.Struct) rag.GenerateRequest {
	fields := s.GetFields()
	req := rag.GenerateRequest{
		Prompt:  fields["prompt"].GetStringValue(),
		Context: StringsField(s, "context"),
	}
	for _, item := range fields["memory"].GetListValue().GetValues() {
		turn := item.GetStructValue().GetFields()
		req.Memory = append(req.Memory, rag.Turn{
			Question: turn["question"].GetStringValue(),
			Answer:   turn["answer"].GetStringValue(),
		})
	}
	return req
}

// EncodeDescription Describe响应
func EncodeDescription(name string, exports []string, dimensions int) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"name":       name,
		"exports":    stringList(exports),
		"dimensions": float64(dimensions),
	})
}
