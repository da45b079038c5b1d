package agent

import "strings"

// appPackages maps common app names to Android package names for the Launch
// action. Models often name the app instead of the package.
var appPackages = map[string]string{
	"settings":  "com.android.settings",
	"chrome":    "com.android.chrome",
	"camera":    "com.android.camera",
	"gmail":     "com.google.android.gm",
	"maps":      "com.google.android.apps.maps",
	"youtube":   "com.google.android.youtube",
	"play":      "com.android.vending",
	"wechat":    "com.tencent.mm",
	"微信":        "com.tencent.mm",
	"alipay":    "com.eg.android.AlipayGphone",
	"支付宝":       "com.eg.android.AlipayGphone",
	"taobao":    "com.taobao.taobao",
	"淘宝":        "com.taobao.taobao",
	"dingtalk":  "com.alibaba.android.rimet",
	"钉钉":        "com.alibaba.android.rimet",
	"telegram":  "org.telegram.messenger",
	"whatsapp":  "com.whatsapp",
	"instagram": "com.instagram.android",
	"twitter":   "com.twitter.android",
	"小红书":       "com.xingin.xhs",
	"知乎":        "com.zhihu.android",
	"铁路12306":   "com.MobileTicket",
}

// packageFor resolves an app reference to a package name. Anything already
// shaped like a package passes through.
func packageFor(app string) string {
	app = strings.TrimSpace(app)
	if app == "" {
		return ""
	}
	if pkg, ok := appPackages[strings.ToLower(app)]; ok {
		return pkg
	}
	if strings.Contains(app, ".") {
		return app
	}
	return ""
}
