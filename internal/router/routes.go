package router

import "github.com/gin-gonic/gin"

func registerAuthRoutes(api *gin.RouterGroup, h *Handlers, limit gin.HandlerFunc) {
	auth := api.Group("/auth")
	{
		auth.POST("/register", limit, h.Auth.Register)
		auth.POST("/login", limit, h.Auth.Login)
		auth.POST("/refresh", limit, h.Auth.Refresh)

		auth.POST("/logout", h.AuthMW.RequireActiveUser(), limit, h.Auth.Logout)
		auth.GET("/me", h.AuthMW.RequireActiveUser(), limit, h.Auth.Me)
	}
}

func registerUserRoutes(api *gin.RouterGroup, h *Handlers, limit gin.HandlerFunc) {
	users := api.Group("/users", h.AuthMW.RequireActiveUser(), limit)
	{
		users.PATCH("/me", h.User.UpdateProfile)
		users.PUT("/me/password", h.User.ChangePassword)

		admin := users.Group("", h.AuthMW.RequireAdmin())
		{
			admin.GET("", h.User.ListUsers)
			admin.GET("/:id", h.User.GetUser)
			admin.PUT("/:id/active", h.User.SetActive)
			admin.DELETE("/:id", h.User.DeleteUser)
		}
	}

	settings := api.Group("/user-settings", h.AuthMW.RequireActiveUser(), limit)
	{
		settings.GET("/me", h.Settings.GetMySettings)
		settings.PUT("/me", h.Settings.UpdateMySettings)

		settings.GET("/:id", h.Settings.GetUserSettings)
		settings.PUT("/:id", h.Settings.UpdateUserSettings)
		settings.DELETE("/:id", h.AuthMW.RequireAdmin(), h.Settings.DeleteUserSettings)
	}
}

func registerChatRoutes(api *gin.RouterGroup, h *Handlers, limit gin.HandlerFunc) {
	chats := api.Group("/chats", h.AuthMW.RequireActiveUser(), limit)
	{
		chats.POST("", h.Chat.CreateChat)
		chats.GET("", h.Chat.ListChats)
		chats.DELETE("", h.Chat.DeleteAllChats)

		chats.GET("/:id", h.Chat.GetChat)
		chats.PATCH("/:id", h.Chat.UpdateChat)
		chats.DELETE("/:id", h.Chat.DeleteChat)

		chats.GET("/:id/messages", h.Chat.ListMessages)
		chats.POST("/:id/messages", h.Chat.AddMessage)
		chats.DELETE("/:id/messages/bulk", h.Chat.BulkDeleteMessages)
		chats.GET("/:id/messages/:messageID", h.Chat.GetMessage)
		chats.PATCH("/:id/messages/:messageID", h.Chat.UpdateMessage)
		chats.DELETE("/:id/messages/:messageID", h.Chat.DeleteMessage)
	}
}

func registerOllamaRoutes(api *gin.RouterGroup, h *Handlers, limit gin.HandlerFunc) {
	api.GET("/ollama/version", limit, h.Ollama.Version)

	ollama := api.Group("/ollama", h.AuthMW.RequireActiveUser(), limit)
	{
		ollama.GET("/models", h.Ollama.ListModels)
		ollama.GET("/models/:name", h.Ollama.ModelDetails)
		ollama.POST("/chat", h.Ollama.Chat)

		admin := ollama.Group("", h.AuthMW.RequireAdmin())
		{
			admin.POST("/models/pull", h.Ollama.PullModel)
			admin.DELETE("/models", h.Ollama.DeleteModel)
		}
	}
}
