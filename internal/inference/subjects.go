package inference

import "fmt"

// Subject is one catalog entry with the tasks a student can ask for.
type Subject struct {
	Name  string   `json:"name"`
	Tasks []string `json:"tasks"`
}

var catalog = []Subject{
	{Name: "高等数学", Tasks: []string{"极限与连续求解", "导数与微分推导", "不定积分/定积分", "微分方程求解", "级数收敛性判定"}},
	{Name: "线性代数", Tasks: []string{"矩阵运算与求逆", "行列式计算", "向量组与秩", "特征值与特征向量", "二次型化简"}},
	{Name: "概率统计", Tasks: []string{"分布函数分析", "期望与方差计算", "参数估计", "假设检验"}},
	{Name: "模拟电路", Tasks: []string{"二极管/三极管电路分析", "运算放大器计算", "反馈电路类型判断", "频率响应分析"}},
	{Name: "数字电路", Tasks: []string{"逻辑门电路分析", "组合逻辑设计", "时序逻辑(触发器)", "A/D与D/A转换"}},
	{Name: "计算机/408", Tasks: []string{"数据结构算法手写", "操作系统原理", "计算机网络协议", "计算机组成架构"}},
	{Name: "大学物理", Tasks: []string{"力学受力分析", "电磁学计算", "光学原理", "热力学定律"}},
	{Name: "考研英语", Tasks: []string{"长难句语法切分", "英一/英二作文批改", "阅读逻辑分析", "翻译精讲 (信达雅)"}},
	{Name: "考研政治", Tasks: []string{"马原原理辨析", "毛中特考点", "史纲时间线梳理", "时政热点分析"}},
}

// Catalog returns a copy of the subject list in display order.
func Catalog() []Subject {
	out := make([]Subject, len(catalog))
	for i, s := range catalog {
		out[i] = Subject{Name: s.Name, Tasks: append([]string(nil), s.Tasks...)}
	}
	return out
}

// ResolveTask checks subject against the catalog. An empty task selects the
// subject's first task; a task outside the list is accepted as free text.
func ResolveTask(subject, task string) (string, error) {
	for _, s := range catalog {
		if s.Name != subject {
			continue
		}
		if task == "" {
			return s.Tasks[0], nil
		}
		return task, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSubject, subject)
}
