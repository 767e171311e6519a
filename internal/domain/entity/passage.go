package entity

// Passage 知识库中的一段政策文本及其检索得分
type Passage struct {
	ID          int64   `json:"id"`
	Source      string  `json:"source"`
	Title       string  `json:"title"`
	Section     string  `json:"section"`
	TextContent string  `json:"text_content"`
	Similarity  float64 `json:"similarity"`
	RerankScore float64 `json:"rerank_score,omitempty"`
}

// FacetValue 返回指定维度字段的取值
func (p Passage) FacetValue(facet string) string {
	switch facet {
	case "source":
		return p.Source
	case "title":
		return p.Title
	case "section":
		return p.Section
	default:
		return ""
	}
}
