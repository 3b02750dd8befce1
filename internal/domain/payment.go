package domain

// PaymentStatus 表示一张 Lightning 发票关联记录的支付状态。
//
// 状态只允许单向迁移: pending -> paid 或 pending -> expired/failed，
// 永远不会回退。
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending" // 发票已创建，等待支付
	PaymentPaid    PaymentStatus = "paid"    // 发票已结算
	PaymentExpired PaymentStatus = "expired" // 发票超时未支付，记录作废
	PaymentFailed  PaymentStatus = "failed"  // 支付流程失败
)

// DeliveryStatus 表示外发邮件的投递状态，与支付状态正交。
//
// 一条记录可以是 paid 且 delivery failed（支付成功但 SMTP 投递失败）。
// 一旦到达 sent 即为终态，不允许再次处理。
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending" // 尚未尝试投递
	DeliverySent    DeliveryStatus = "sent"    // 投递成功（终态）
	DeliveryFailed  DeliveryStatus = "failed"  // 投递失败，等待重试
)
