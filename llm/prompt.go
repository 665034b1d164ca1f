package llm

import (
	"fmt"
	"os"
	"strings"
)

// DefaultPrompt is the built-in instruction template. The images follow it
// in the same request, in acquisition order.
const DefaultPrompt = `당신은 꼼꼼한 식품 영양 분석 전문가입니다.
첨부된 제품 상세페이지 이미지들을 모두 확인하고 아래 항목을 정리해 주세요.
영양성분표는 대개 상세페이지의 마지막 이미지나 상품정보제공고시 표에 있으니 끝까지 확인해 주세요.

[출력 형식]
1. 제품명:
2. 칼로리:
3. 주요 영양성분 (당류, 단백질 등):
4. 원재료명:
5. 특이사항 (알레르기 유발 성분 등):
6. 합성첨가물 유무 및 종류:
7. 종합 평가:

마지막으로 웰니스 관점의 3줄 요약 평가를 덧붙여 주세요.`

// noticeHeader introduces the product notice text part.
const noticeHeader = "[상품정보제공고시]\n"

// LoadPrompt returns the instruction template stored at path, or
// DefaultPrompt when path is empty.
func LoadPrompt(path string) (string, error) {
	if path == "" {
		return DefaultPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("llm: read prompt file: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("llm: prompt file %s is empty", path)
	}
	return prompt, nil
}
