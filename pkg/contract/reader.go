package contract

import "context"

// RegistryReader: 读取登记表 CSV。
// 约束：
//  1. 按候选编码顺序尝试解码，全部失败返回 ErrDecode；
//  2. 文件不存在视为配置错误（ErrConfig）；
//  3. 表头定义列名，行内容只读。
type RegistryReader interface {
	Read(ctx context.Context, path string) (Table, error)
}
