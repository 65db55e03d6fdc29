/*
Package planfile 从目录加载 YAML / JSON 计划文件并同步到工作流存储。

文件格式与 workflow.PlanSpec 相同；缺省 name 时使用文件名。Sync 对每个文件
执行 workflow.Compile，以计划名为 id 保存，同名计划整体替换。Watcher 基于
fsnotify 监听目录，变化经防抖后重新同步。
*/
package planfile
