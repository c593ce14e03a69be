package proxy

import "strings"

// IndexRewriter 将上游 simple 索引中的文件基地址替换为镜像基地址，
// 使 pip 后续的下载请求回到本服务。
type IndexRewriter struct {
	upstreamBase string
}

// NewIndexRewriter 返回绑定上游文件基地址的 IndexRewriter。
func NewIndexRewriter(upstreamBase string) IndexRewriter {
	return IndexRewriter{upstreamBase: upstreamBase}
}

// Rewrite 对 html 做字面量全量替换，不解析 HTML，其余内容原样保留。
func (r IndexRewriter) Rewrite(html, mirrorBase string) string {
	if r.upstreamBase == "" || r.upstreamBase == mirrorBase {
		return html
	}
	return strings.ReplaceAll(html, r.upstreamBase, mirrorBase)
}
